package config

import "time"

// Config holds client configuration values.
type Config struct {
	GatewayURL string `mapstructure:"gateway_url" yaml:"gateway_url"`
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	Token      string `mapstructure:"token" yaml:"token"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	TypingIdleTimeout    time.Duration `mapstructure:"typing_idle_timeout" yaml:"typing_idle_timeout"`
	BatchWindow          time.Duration `mapstructure:"batch_window" yaml:"batch_window"`
	ReadFlushDelay       time.Duration `mapstructure:"read_flush_delay" yaml:"read_flush_delay"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		GatewayURL:           "ws://localhost:8090/ws",
		APIBaseURL:           "http://localhost:8090",
		LogLevel:             "info",
		LogFormat:            "console",
		TypingIdleTimeout:    2 * time.Second,
		BatchWindow:          time.Second,
		ReadFlushDelay:       500 * time.Millisecond,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.GatewayURL != "" {
		c.GatewayURL = other.GatewayURL
	}
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.TypingIdleTimeout != 0 {
		c.TypingIdleTimeout = other.TypingIdleTimeout
	}
	if other.BatchWindow != 0 {
		c.BatchWindow = other.BatchWindow
	}
	if other.ReadFlushDelay != 0 {
		c.ReadFlushDelay = other.ReadFlushDelay
	}
	if other.ReconnectBaseDelay != 0 {
		c.ReconnectBaseDelay = other.ReconnectBaseDelay
	}
	if other.ReconnectMaxDelay != 0 {
		c.ReconnectMaxDelay = other.ReconnectMaxDelay
	}
	if other.MaxReconnectAttempts != 0 {
		c.MaxReconnectAttempts = other.MaxReconnectAttempts
	}
}
