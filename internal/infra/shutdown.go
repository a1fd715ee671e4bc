package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownPhase orders shutdown. Handlers in earlier phases finish before
// later phases start.
type ShutdownPhase int

const (
	// PhaseIntake stops accepting requests and drains in-flight ones.
	PhaseIntake ShutdownPhase = iota
	// PhaseBackground stops schedulers such as dead-letter replay.
	PhaseBackground
	// PhaseStores closes queues, session stores and broker connections.
	PhaseStores
	// PhaseTelemetry flushes traces last so shutdown itself is recorded.
	PhaseTelemetry
	phaseCount
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseIntake:
		return "intake"
	case PhaseBackground:
		return "background"
	case PhaseStores:
		return "stores"
	case PhaseTelemetry:
		return "telemetry"
	default:
		return fmt.Sprintf("phase-%d", p)
	}
}

// ShutdownFunc releases one component. ctx carries the handler deadline.
type ShutdownFunc func(ctx context.Context) error

// ShutdownHandler is one registered component.
type ShutdownHandler struct {
	Name    string
	Phase   ShutdownPhase
	Func    ShutdownFunc
	Timeout time.Duration // 0 uses the coordinator default
}

// ShutdownResult reports how one handler finished.
type ShutdownResult struct {
	Name     string
	Phase    ShutdownPhase
	Duration time.Duration
	Error    error
}

// ShutdownCoordinator runs registered handlers phase by phase. Handlers in
// the same phase run concurrently.
type ShutdownCoordinator struct {
	mu             sync.Mutex
	handlers       [phaseCount][]ShutdownHandler
	defaultTimeout time.Duration
	logger         *slog.Logger
	once           sync.Once
	results        []ShutdownResult
}

// NewShutdownCoordinator creates a coordinator. A nil logger discards output.
func NewShutdownCoordinator(defaultTimeout time.Duration, logger *slog.Logger) *ShutdownCoordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ShutdownCoordinator{defaultTimeout: defaultTimeout, logger: logger}
}

// Register adds a handler. Out-of-range phases run with PhaseStores.
func (c *ShutdownCoordinator) Register(name string, phase ShutdownPhase, fn ShutdownFunc) {
	c.RegisterHandler(ShutdownHandler{Name: name, Phase: phase, Func: fn})
}

// RegisterHandler adds a handler with its own timeout.
func (c *ShutdownCoordinator) RegisterHandler(handler ShutdownHandler) {
	if handler.Phase < 0 || handler.Phase >= phaseCount {
		handler.Phase = PhaseStores
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[handler.Phase] = append(c.handlers[handler.Phase], handler)
}

// Shutdown runs every handler once. Later calls return the first results.
// Phases after a cancelled ctx are skipped.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) []ShutdownResult {
	c.once.Do(func() {
		start := time.Now()
		var results []ShutdownResult
		for phase := ShutdownPhase(0); phase < phaseCount; phase++ {
			c.mu.Lock()
			handlers := append([]ShutdownHandler(nil), c.handlers[phase]...)
			c.mu.Unlock()
			if len(handlers) == 0 {
				continue
			}
			if ctx.Err() != nil {
				c.logger.Warn("shutdown deadline reached, skipping phase", "phase", phase.String())
				continue
			}
			results = append(results, c.runPhase(ctx, handlers)...)
		}
		c.logger.Info("shutdown complete", "duration", time.Since(start))

		c.mu.Lock()
		c.results = results
		c.mu.Unlock()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

func (c *ShutdownCoordinator) runPhase(ctx context.Context, handlers []ShutdownHandler) []ShutdownResult {
	results := make([]ShutdownResult, len(handlers))
	var wg sync.WaitGroup
	for i := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runHandler(ctx, handlers[i])
		}()
	}
	wg.Wait()
	return results
}

func (c *ShutdownCoordinator) runHandler(ctx context.Context, h ShutdownHandler) ShutdownResult {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- h.Func(hctx) }()

	var err error
	select {
	case err = <-done:
	case <-hctx.Done():
		err = hctx.Err()
	}

	result := ShutdownResult{Name: h.Name, Phase: h.Phase, Duration: time.Since(start), Error: err}
	if err != nil {
		c.logger.Warn("shutdown handler failed", "handler", h.Name, "phase", h.Phase.String(), "error", err)
	} else {
		c.logger.Debug("shutdown handler complete", "handler", h.Name, "duration", result.Duration)
	}
	return result
}
