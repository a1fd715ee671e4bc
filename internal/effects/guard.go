package effects

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

// GuardConfig configures the reliability stack of one sink.
type GuardConfig struct {
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration

	// Retry is applied inside the breaker. Nil uses infra.DefaultRetryConfig.
	Retry *infra.RetryConfig
}

// DefaultGuardConfig returns a 10s per-attempt timeout and default retries.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout: 10 * time.Second,
		Retry:   infra.DefaultRetryConfig(),
	}
}

// Guard wraps one sink as breaker(retry(timeout(write))). The breaker sees one
// result per exhausted retry sequence, so a single bad write cannot open it.
type Guard struct {
	sink    Sink
	breaker *infra.CircuitBreaker
	timeout time.Duration
	retry   infra.RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// GuardResult describes one guarded write.
type GuardResult struct {
	Attempts int
	Duration time.Duration
	Err      error
}

// NewGuard wraps sink with breaker. logger and metrics may be nil.
func NewGuard(sink Sink, breaker *infra.CircuitBreaker, config GuardConfig, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	if config.Retry == nil {
		config.Retry = infra.DefaultRetryConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	g := &Guard{
		sink:    sink,
		breaker: breaker,
		timeout: config.Timeout,
		retry:   *config.Retry,
		logger:  logger.WithFields("sink", sink.Name()),
		metrics: metrics,
	}
	userOnRetry := g.retry.OnRetry
	g.retry.OnRetry = func(info infra.RetryInfo) {
		g.metrics.RecordRetry(sink.Name())
		if userOnRetry != nil {
			userOnRetry(info)
		}
	}
	return g
}

// Name returns the sink name.
func (g *Guard) Name() string { return g.sink.Name() }

// Breaker returns the sink's circuit breaker.
func (g *Guard) Breaker() *infra.CircuitBreaker { return g.breaker }

// Write sends payload through the breaker, retry and timeout layers.
func (g *Guard) Write(ctx context.Context, payload Payload) GuardResult {
	start := time.Now()
	var result GuardResult

	result.Err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		retry := g.retry
		onRetry := retry.OnRetry
		retry.OnRetry = func(info infra.RetryInfo) {
			onRetry(info)
			g.logger.Warn(ctx, "retrying sink write",
				"attempt", info.Attempt,
				"max_retries", info.MaxRetries,
				"delay_ms", info.Delay.Milliseconds(),
				"error_kind", infra.Classify(info.Error),
				"error", info.Error,
			)
		}

		res := infra.RetryVoid(ctx, &retry, func(ctx context.Context) error {
			return infra.WithTimeoutVoid(ctx, "sink."+g.sink.Name(), g.timeout, func(ctx context.Context) error {
				return g.attempt(ctx, payload)
			})
		})
		result.Attempts = res.Attempts
		return res.LastError
	})

	result.Duration = time.Since(start)
	return result
}

// attempt runs on the timeout goroutine, so a panicking sink is turned into
// a rejected write here rather than taking down the process.
func (g *Guard) attempt(ctx context.Context, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(ctx, "sink write panicked", "panic", fmt.Sprint(r))
			err = &SinkWriteError{Sink: g.sink.Name(), Detail: fmt.Sprintf("panic: %v", r)}
		}
	}()

	outcome, err := g.sink.Write(ctx, payload)
	if err != nil {
		return err
	}
	if !outcome.Success {
		return &SinkWriteError{Sink: g.sink.Name(), Detail: outcome.ErrorDetail}
	}
	return nil
}

// NewSinkBreaker creates the breaker for one sink, publishing state changes
// to logger and metrics.
func NewSinkBreaker(name string, threshold int, recovery time.Duration, logger *observability.Logger, metrics *observability.Metrics) *infra.CircuitBreaker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics.SetBreakerState(name, string(infra.CircuitClosed))
	return infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		OnStateChange: func(name string, from, to infra.CircuitState) {
			metrics.SetBreakerState(name, string(to))
			logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name,
				"from", string(from),
				"to", string(to),
			)
		},
	})
}
