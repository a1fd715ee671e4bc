// Package gateway serves the tool registry over HTTP together with health
// and metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

// Config configures the HTTP server.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Options holds the server's collaborators. Only Tools is required.
type Options struct {
	Tools    *agent.ToolRegistry
	Health   *infra.HealthCheckRegistry
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Gatherer prometheus.Gatherer

	// Auth guards the /v1/tools routes. Nil leaves them open.
	Auth *Authenticator
}

// Server is the HTTP gateway.
type Server struct {
	config  Config
	tools   *agent.ToolRegistry
	health  *infra.HealthCheckRegistry
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	gather  prometheus.Gatherer
	auth    *Authenticator

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server.
func New(config Config, opts Options) *Server {
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = 5 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Health == nil {
		opts.Health = infra.NewHealthCheckRegistry()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:  config,
		tools:   opts.Tools,
		health:  opts.Health,
		logger:  opts.Logger.WithFields("component", "gateway"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		gather:  opts.Gatherer,
		auth:    opts.Auth,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tools", s.requireAuth(s.handleListTools))
	mux.HandleFunc("POST /v1/tools/{name}", s.requireAuth(s.handleExecuteTool))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	return s.withObservability(mux)
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "starting http server", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
