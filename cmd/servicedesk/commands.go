package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tool gateway",
		Long: `Start the HTTP tool gateway.

The server will:
1. Load and validate the configuration
2. Open the session store and the dead-letter queue
3. Wire the row and calendar sinks behind their guards
4. Start scheduled dead-letter replay, if configured
5. Serve /v1/tools, /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  servicedesk serve
  servicedesk serve --config /etc/servicedesk/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildValidateCmd creates the "validate" command.
func buildValidateCmd() *cobra.Command {
	var (
		configPath       string
		confirmationPath string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and optionally a confirmation payload",
		Long: `Validate the configuration file. With --confirmation, also validate a
confirmation JSON document and print the row and calendar payloads it
would produce. Nothing is written to any sink.`,
		Example: `  servicedesk validate --config servicedesk.yaml
  servicedesk validate --confirmation confirm.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, resolveConfigPath(configPath), confirmationPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&confirmationPath, "confirmation", "", "Path to a confirmation JSON file (- for stdin)")
	return cmd
}

// buildDeadLetterCmd creates the "deadletter" command group.
func buildDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay failed sink writes",
	}
	cmd.AddCommand(buildDeadLetterListCmd(), buildDeadLetterReplayCmd())
	return cmd
}

func buildDeadLetterListCmd() *cobra.Command {
	var (
		configPath string
		opts       deadLetterListOptions
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Example: `  servicedesk deadletter list --state pending
  servicedesk deadletter list --sink calendar --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterList(cmd, resolveConfigPath(configPath), opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state (pending, delivered, abandoned)")
	cmd.Flags().StringVar(&opts.Sink, "sink", "", "Filter by sink (row, calendar)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum letters to show")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print letters as JSON, including payloads")
	return cmd
}

func buildDeadLetterReplayCmd() *cobra.Command {
	var (
		configPath string
		id         string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay pending dead letters through the configured sinks",
		Long: `Replay pending dead letters through the same guarded sinks the server uses.
Sinks upsert by repair id, so replaying a letter twice is safe. Letters that
keep failing are abandoned after dead_letter.max_attempts replays.`,
		Example: `  servicedesk deadletter replay
  servicedesk deadletter replay --id 0b6c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterReplay(cmd, resolveConfigPath(configPath), id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&id, "id", "", "Replay a single letter")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	})
	return cmd
}

// buildTokenCmd creates the "token" command.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the tool routes",
		Long: `Sign a bearer token with server.auth.jwt_secret. Callers of /v1/tools send
it as "Authorization: Bearer <token>". The token lifetime defaults to
server.auth.token_ttl.`,
		Example: `  servicedesk token --subject voice-agent
  servicedesk token --subject ops --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, resolveConfigPath(configPath), subject, ttl)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&subject, "subject", "", "Caller identity recorded in the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "servicedesk %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
