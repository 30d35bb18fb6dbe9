package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUpdateFromOverwritesOnlySetValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{
		Token:       "abc",
		GatewayURL:  "ws://example:9999/ws",
		BatchWindow: 2 * time.Second,
	})

	if cfg.Token != "abc" {
		t.Errorf("token not applied")
	}
	if cfg.GatewayURL != "ws://example:9999/ws" {
		t.Errorf("gateway url not applied")
	}
	if cfg.BatchWindow != 2*time.Second {
		t.Errorf("batch window not applied")
	}
	// Untouched fields keep their defaults.
	if cfg.APIBaseURL != Default().APIBaseURL {
		t.Errorf("api base url changed unexpectedly")
	}
	if cfg.MaxReconnectAttempts != Default().MaxReconnectAttempts {
		t.Errorf("max reconnect attempts changed unexpectedly")
	}
}

func TestLoadWritesDefaultConfigOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.GatewayURL != Default().GatewayURL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "gateway_url: ws://gw:7000/ws\nlog_level: debug\ntyping_idle_timeout: 3s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatewayURL != "ws://gw:7000/ws" {
		t.Errorf("gateway url = %q", cfg.GatewayURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.TypingIdleTimeout != 3*time.Second {
		t.Errorf("typing idle timeout = %v", cfg.TypingIdleTimeout)
	}
	// Values absent from the file keep their defaults.
	if cfg.BatchWindow != Default().BatchWindow {
		t.Errorf("batch window = %v", cfg.BatchWindow)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MOTORCHAT_LOG_LEVEL", "trace")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("log level = %q, want trace", cfg.LogLevel)
	}
}
