package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/talon-ai/talon/internal/config"
)

// buildHealthCmd creates the "health" command, a thin client for a running
// gateway's /api/health endpoint. Unlike serve, this never constructs a
// gateway.Server itself — it just probes one over HTTP.
func buildHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			host := cfg.Server.Host
			if host == "" || host == "0.0.0.0" {
				host = "127.0.0.1"
			}
			url := fmt.Sprintf("http://%s:%d/api/health", host, cfg.Server.HTTPPort)

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			var payload map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return fmt.Errorf("decode health response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %v\n", payload["status"])
			fmt.Fprintf(out, "version: %v\n", payload["version"])
			fmt.Fprintf(out, "uptime:  %.0fs\n", payload["uptimeSeconds"])
			if stats, ok := payload["stats"].(map[string]any); ok {
				fmt.Fprintf(out, "sessions:   %v\n", stats["sessions"])
				fmt.Fprintf(out, "wsClients:  %v\n", stats["wsClients"])
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway reported unhealthy status: %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
