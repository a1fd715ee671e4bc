package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/backoff"
	"github.com/haasonsaas/servicedesk/internal/config"
	"github.com/haasonsaas/servicedesk/internal/deadletter"
	"github.com/haasonsaas/servicedesk/internal/effects"
	"github.com/haasonsaas/servicedesk/internal/gateway"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
	"github.com/haasonsaas/servicedesk/internal/sessions"
	"github.com/haasonsaas/servicedesk/internal/sinks/webhook"
	"github.com/haasonsaas/servicedesk/internal/tools/repair"
)

// app holds every component built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	perf     *observability.PerfTracker

	store    sessions.Store
	queue    deadletter.Queue
	executor *effects.Executor
	replayer *deadletter.Replayer
	tools    *agent.ToolRegistry
	health   *infra.HealthCheckRegistry

	closers []closer
}

type closer struct {
	name  string
	phase infra.ShutdownPhase
	fn    infra.ShutdownFunc
}

// newApp builds the component graph. Call close (or register the closers
// with a shutdown coordinator) when done.
func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	built := false
	defer func() {
		if !built {
			a.close(context.Background())
		}
	}()

	a.logger = observability.NewLogger(logConfig(cfg.Logging, logOutput))
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	tracer, shutdownTracer := observability.NewTracer(traceConfig(cfg.Tracing))
	a.tracer = tracer
	a.addCloser("tracer", infra.PhaseTelemetry, shutdownTracer)

	a.perf = observability.NewPerfTracker(perfConfig(cfg.Performance), a.logger, a.metrics)
	a.health = infra.NewHealthCheckRegistry()

	if err := a.openSessions(ctx); err != nil {
		return nil, err
	}
	if err := a.openDeadLetters(); err != nil {
		return nil, err
	}

	row, err := a.newGuard("row", cfg.Sinks.Row)
	if err != nil {
		return nil, err
	}
	calendar, err := a.newGuard("calendar", cfg.Sinks.Calendar)
	if err != nil {
		return nil, err
	}
	a.executor = effects.NewExecutor(row, calendar, effects.ExecutorConfig{
		Builder:     effects.Builder{CalendarID: cfg.CalendarID},
		Logger:      a.logger,
		Metrics:     a.metrics,
		Tracer:      a.tracer,
		Perf:        a.perf,
		DeadLetters: a.queue,
	})
	for _, cb := range a.executor.Breakers() {
		a.health.RegisterBreaker(cb)
	}

	a.replayer = deadletter.NewReplayer(a.queue, a.executor, deadletter.ReplayConfig{
		MaxAttempts: cfg.DeadLetter.MaxAttempts,
		BatchSize:   cfg.DeadLetter.BatchSize,
	}, a.logger, a.metrics)

	a.tools = agent.NewToolRegistry(
		agent.WithToolTimeout(cfg.Server.ToolTimeout),
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
	)
	repair.Register(a.tools, a.executor, a.store, a.logger)
	built = true
	return a, nil
}

func (a *app) openSessions(ctx context.Context) error {
	switch a.cfg.Sessions.Backend {
	case "postgres":
		pg, err := sessions.NewPostgresStore(postgresConfig(a.cfg.Sessions.Postgres))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		a.addCloser("sessions.postgres", infra.PhaseStores, func(context.Context) error { return pg.Close() })
		a.health.Register(infra.HealthCheckConfig{
			Name:    "sessions.postgres",
			Timeout: 2 * time.Second,
			Checker: func(ctx context.Context) infra.HealthCheckResult {
				result := infra.HealthCheckResult{Name: "sessions.postgres", Status: infra.ServiceHealthHealthy, Timestamp: time.Now()}
				if err := pg.Ping(ctx); err != nil {
					result.Status = infra.ServiceHealthUnhealthy
					result.Message = err.Error()
				}
				return result
			},
		})
		a.store = sessions.NewFallbackStore(pg, a.logger)
		a.logger.Info(ctx, "session store ready", "backend", "postgres")
	default:
		a.store = sessions.NewMemoryStore()
	}
	return nil
}

func (a *app) openDeadLetters() error {
	dl := a.cfg.DeadLetter
	var queue deadletter.Queue
	switch dl.Backend {
	case "sqlite":
		q, err := deadletter.NewSQLiteQueue(dl.Path)
		if err != nil {
			return fmt.Errorf("open dead-letter queue: %w", err)
		}
		queue = q
	default:
		queue = deadletter.NewMemoryQueue()
	}

	if dl.AMQP.URL != "" {
		publisher, err := deadletter.NewAMQPPublisher(dl.AMQP.URL, dl.AMQP.Exchange)
		if err != nil {
			_ = queue.Close()
			return fmt.Errorf("connect dead-letter exchange: %w", err)
		}
		queue = deadletter.NewAMQPMirror(queue, publisher, a.logger)
	}

	a.queue = queue
	a.addCloser("deadletter.queue", infra.PhaseStores, func(context.Context) error { return queue.Close() })
	return nil
}

func (a *app) newGuard(name string, sc config.SinkConfig) (*effects.Guard, error) {
	sink, err := webhook.New(webhookConfig(name, sc))
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}
	breaker := effects.NewSinkBreaker(name, sc.Breaker.FailureThreshold, sc.Breaker.RecoveryTimeout, a.logger, a.metrics)
	return effects.NewGuard(sink, breaker, guardConfig(sc), a.logger, a.metrics), nil
}

func (a *app) newServer() *gateway.Server {
	return gateway.New(gateway.Config{
		Host:              a.cfg.Server.Host,
		Port:              a.cfg.Server.HTTPPort,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   a.cfg.Server.ShutdownTimeout,
	}, gateway.Options{
		Tools:    a.tools,
		Health:   a.health,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Gatherer: a.registry,
		Auth:     authenticator(a.cfg.Server.Auth),
	})
}

func authenticator(c config.AuthConfig) *gateway.Authenticator {
	return gateway.NewAuthenticator(c.JWTSecret, c.Issuer)
}

func (a *app) addCloser(name string, phase infra.ShutdownPhase, fn infra.ShutdownFunc) {
	a.closers = append(a.closers, closer{name: name, phase: phase, fn: fn})
}

func (a *app) registerShutdown(c *infra.ShutdownCoordinator) {
	for _, cl := range a.closers {
		c.Register(cl.name, cl.phase, cl.fn)
	}
}

// close releases everything in shutdown phase order.
func (a *app) close(ctx context.Context) {
	c := infra.NewShutdownCoordinator(5*time.Second, a.logger.Slog())
	a.registerShutdown(c)
	c.Shutdown(ctx)
}

func logConfig(l config.LoggingConfig, out io.Writer) observability.LogConfig {
	if out == nil {
		out = os.Stderr
	}
	return observability.LogConfig{
		Level:     l.Level,
		Format:    l.Format,
		Output:    out,
		AddSource: l.AddSource,
	}
}

func traceConfig(t config.TracingConfig) observability.TraceConfig {
	return observability.TraceConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SamplingRate,
		Attributes:     t.Attributes,
		EnableInsecure: t.Insecure,
	}
}

func perfConfig(p config.PerformanceConfig) observability.PerfConfig {
	pc := observability.DefaultPerfConfig()
	pc.BufferSize = p.BufferSize
	pc.SlowThreshold = p.SlowThreshold
	pc.VerySlowThreshold = p.VerySlowThreshold
	pc.Window = p.SummaryWindow
	pc.ErrorKind = infra.Classify
	return pc
}

func postgresConfig(p config.PostgresConfig) *sessions.PostgresConfig {
	pc := sessions.DefaultPostgresConfig()
	pc.DSN = p.DSN
	pc.MaxOpenConns = p.MaxOpenConns
	pc.MaxIdleConns = p.MaxIdleConns
	pc.ConnMaxLifetime = p.ConnMaxLifetime
	pc.ConnectTimeout = p.ConnectTimeout
	if p.EnsureSchema != nil {
		pc.EnsureSchema = *p.EnsureSchema
	}
	return pc
}

func webhookConfig(name string, sc config.SinkConfig) webhook.Config {
	return webhook.Config{
		Name:      name,
		URL:       sc.URL,
		Method:    sc.Method,
		Token:     sc.Token,
		Headers:   sc.Headers,
		RateLimit: sc.RateLimit,
		Burst:     sc.Burst,
	}
}

func guardConfig(sc config.SinkConfig) effects.GuardConfig {
	retry := infra.DefaultRetryConfig()
	if sc.Retry.MaxRetries != nil {
		retry.MaxRetries = *sc.Retry.MaxRetries
	}
	retry.Backoff = backoff.Policy{
		BaseDelay:  sc.Retry.BaseDelay,
		MaxDelay:   sc.Retry.MaxDelay,
		Multiplier: sc.Retry.Multiplier,
	}.Normalize()
	return effects.GuardConfig{Timeout: sc.Timeout, Retry: retry}
}
