// Package main provides the CLI entry point for the Talon gateway.
//
// Talon connects messaging channels to LLM providers, driving every
// inbound message through an agentic loop with tool execution, session
// memory, and automatic provider failover.
//
// # Basic Usage
//
// Start the server:
//
//	talon serve --config talon.yaml
//
// # Environment Variables
//
//   - TALON_CONFIG: path to the configuration file (default: talon.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
//   - TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN, SLACK_BOT_TOKEN, SLACK_APP_TOKEN: channel credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "talon.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "talon",
		Short: "Talon - personal AI assistant gateway",
		Long: `Talon connects messaging channels to LLM providers with tool execution.

Supported channels: Telegram, Discord, Slack
Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildHealthCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if envPath := os.Getenv("TALON_CONFIG"); envPath != "" {
		return envPath
	}
	return defaultConfigPath
}
