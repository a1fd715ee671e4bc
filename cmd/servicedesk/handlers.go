package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/servicedesk/internal/config"
	"github.com/haasonsaas/servicedesk/internal/confirmation"
	"github.com/haasonsaas/servicedesk/internal/deadletter"
	"github.com/haasonsaas/servicedesk/internal/effects"
)

// runValidate checks the config file and, when given, a confirmation file.
// A missing default config is only an error when no confirmation is given.
func runValidate(cmd *cobra.Command, configPath, confirmationPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		fmt.Fprintf(out, "config %s: ok\n", configPath)
	case confirmationPath != "" && configPath == defaultConfigPath && errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
	default:
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "config %s: invalid\n", configPath)
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
		}
		return err
	}

	if confirmationPath == "" {
		return nil
	}
	raw, err := readInput(cmd.InOrStdin(), confirmationPath)
	if err != nil {
		return err
	}
	c, err := confirmation.Validate(raw)
	if err != nil {
		var verr *confirmation.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(out, "confirmation: invalid")
			for _, fe := range verr.Fields {
				fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
			}
		}
		return err
	}

	builder := effects.Builder{CalendarID: cfg.CalendarID}
	preview := struct {
		RepairID string                `json:"repairId"`
		Row      effects.Row           `json:"row"`
		Calendar effects.CalendarEvent `json:"calendar"`
	}{
		RepairID: effects.RepairIDFor(c.CustomerID),
		Row:      builder.BuildRow(c),
		Calendar: builder.BuildCalendarEvent(c),
	}
	fmt.Fprintln(out, "confirmation: ok")
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(preview)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	return data, nil
}

type deadLetterListOptions struct {
	State string
	Sink  string
	Limit int
	JSON  bool
}

func runDeadLetterList(cmd *cobra.Command, configPath string, opts deadLetterListOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	state := deadletter.State(strings.ToLower(opts.State))
	switch state {
	case "", deadletter.StatePending, deadletter.StateDelivered, deadletter.StateAbandoned:
	default:
		return fmt.Errorf("unknown state %q", opts.State)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	letters, err := queue.List(ctx, deadletter.Filter{State: state, Sink: opts.Sink, Limit: opts.Limit})
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(letters)
	}
	if len(letters) == 0 {
		fmt.Fprintln(out, "No dead letters found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSINK\tREPAIR\tSTATE\tATTEMPTS\tERROR\tCREATED")
	for _, l := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.ID, l.Sink, l.RepairID, l.State, l.Attempts, l.ErrorKind, l.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// openQueue opens the configured store without the broker mirror; listing
// never enqueues.
func openQueue(cfg *config.Config) (deadletter.Queue, error) {
	if cfg.DeadLetter.Backend != "sqlite" {
		return nil, fmt.Errorf("dead_letter.backend %q is in-process only; use sqlite to inspect letters from the CLI", cfg.DeadLetter.Backend)
	}
	q, err := deadletter.NewSQLiteQueue(cfg.DeadLetter.Path)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter queue: %w", err)
	}
	return q, nil
}

func runDeadLetterReplay(cmd *cobra.Command, configPath, id string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DeadLetter.Backend != "sqlite" {
		return fmt.Errorf("dead_letter.backend %q is in-process only; use sqlite to replay letters from the CLI", cfg.DeadLetter.Backend)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	out := cmd.OutOrStdout()
	if id != "" {
		letter, err := a.replayer.ReplayID(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "letter %s: %s (attempts %d)\n", letter.ID, letter.State, letter.Attempts)
		return nil
	}

	stats, err := a.replayer.ReplayOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "attempted %d, delivered %d, failed %d, abandoned %d\n",
		stats.Attempted, stats.Delivered, stats.Failed, stats.Abandoned)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(schema); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

func runToken(cmd *cobra.Command, configPath, subject string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	auth := authenticator(cfg.Server.Auth)
	if !auth.Enabled() {
		return errors.New("server.auth.jwt_secret is not set")
	}
	if ttl <= 0 {
		ttl = cfg.Server.Auth.TokenTTL
	}
	token, err := auth.Issue(subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
