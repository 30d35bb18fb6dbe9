package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/motormarket/realtime/internal/config"
	"github.com/motormarket/realtime/internal/log"
)

func newLoginCmd() *cobra.Command {
	var (
		api  string
		user string
		name string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a session token from the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if api == "" {
				api = cfg.APIBaseURL
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			token, err := requestToken(api, user, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "export MOTORCHAT_TOKEN=%s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&api, "api", "", "persistence API base URL")
	cmd.Flags().StringVar(&user, "user", "", "user id to log in as")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func requestToken(api, user, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"user_id":      user,
		"display_name": name,
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimSuffix(api, "/")+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}

// loadConfig resolves the effective config: file and environment via
// the loader, then command line overrides on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	bootstrap := log.New("warn", "console")

	cfg, _, err := config.Load(bootstrap, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}
