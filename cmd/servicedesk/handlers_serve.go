package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/servicedesk/internal/config"
	"github.com/haasonsaas/servicedesk/internal/infra"
)

// runServe loads the config, starts the gateway and blocks until SIGINT or
// SIGTERM, then shuts down phase by phase.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(a.logger.Slog())

	a.logger.Info(ctx, "starting servicedesk",
		"version", version,
		"commit", commit,
		"config", configPath,
		"sessions", cfg.Sessions.Backend,
		"dead_letter", cfg.DeadLetter.Backend,
		"auth", cfg.Server.Auth.JWTSecret != "",
	)
	if cfg.Server.Auth.JWTSecret == "" {
		a.logger.Warn(ctx, "tool routes are unauthenticated; set server.auth.jwt_secret")
	}

	shutdown := infra.NewShutdownCoordinator(cfg.Server.ShutdownTimeout, a.logger.Slog())
	a.registerShutdown(shutdown)

	if schedule := cfg.DeadLetter.ReplaySchedule; schedule != "" {
		if err := a.replayer.Start(schedule); err != nil {
			a.close(context.Background())
			return fmt.Errorf("start dead-letter replay: %w", err)
		}
		shutdown.Register("deadletter.replayer", infra.PhaseBackground, func(context.Context) error {
			a.replayer.Stop()
			return nil
		})
	}

	server := a.newServer()
	if err := server.Start(ctx); err != nil {
		a.close(context.Background())
		return err
	}
	shutdown.Register("http", infra.PhaseIntake, server.Shutdown)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	a.logger.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, result := range shutdown.Shutdown(shutdownCtx) {
		if result.Error != nil {
			return fmt.Errorf("shutdown %s: %w", result.Name, result.Error)
		}
	}
	return nil
}
