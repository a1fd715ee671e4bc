// Package main provides the servicedesk CLI.
//
// servicedesk records confirmed repair appointments in a row sink and a
// calendar sink, keeps per-session customer profiles, and exposes both as
// agent tools over HTTP.
//
// # Basic Usage
//
// Start the server:
//
//	servicedesk serve --config servicedesk.yaml
//
// Check a config file and a confirmation payload:
//
//	servicedesk validate --config servicedesk.yaml --confirmation confirm.json
//
// Inspect and replay failed sink writes:
//
//	servicedesk deadletter list --state pending
//	servicedesk deadletter replay
//
// # Environment Variables
//
//   - SERVICEDESK_CONFIG: path to the configuration file (default: servicedesk.yaml)
//
// Config files may reference any variable as ${NAME} or ${NAME:-fallback}.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "servicedesk.yaml"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "servicedesk",
		Short: "servicedesk - repair confirmation and session backend",
		Long: `servicedesk validates repair confirmations, writes them to a row sink and a
calendar sink with timeouts, retries and circuit breakers, and keeps failed
writes in a dead-letter log for replay.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildDeadLetterCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then SERVICEDESK_CONFIG.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("SERVICEDESK_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
