package infra

import (
	"context"
	"time"

	"github.com/haasonsaas/servicedesk/internal/backoff"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt
	// (0 = no retries, just the initial attempt).
	MaxRetries int

	// Backoff computes the delay before retry n (0-indexed):
	// min(BaseDelay * Multiplier^n, MaxDelay).
	Backoff backoff.Policy

	// RetryIf decides whether an error should be retried.
	// If nil, IsTransient is used.
	RetryIf func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(info RetryInfo)
}

// RetryInfo provides context about a retry attempt.
type RetryInfo struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
	Error      error
}

// DefaultRetryConfig returns the retry configuration used for sink writes.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		Backoff:    backoff.DefaultPolicy(),
	}
}

// RetryResult contains information about a retry operation.
type RetryResult struct {
	// Attempts is the total number of attempts made.
	Attempts int

	// Delays holds every backoff delay slept between attempts, in order.
	Delays []time.Duration

	// TotalDuration is the total time spent including delays.
	TotalDuration time.Duration

	// LastError is the last error encountered (nil on success).
	LastError error
}

// Retry executes fn, retrying transient failures according to cfg.
// On exhaustion the last error is returned unchanged in RetryResult.LastError.
// Non-retryable errors are returned after the first attempt that produced them.
func Retry[T any](ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			if result.LastError == nil {
				result.LastError = ctx.Err()
			}
			result.TotalDuration = time.Since(start)
			return zero, result
		}

		val, err := fn(ctx)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if !retryIf(err) || attempt >= cfg.MaxRetries {
			break
		}

		delay := cfg.Backoff.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(RetryInfo{
				Attempt:    attempt + 1,
				MaxRetries: cfg.MaxRetries,
				Delay:      delay,
				Error:      err,
			})
		}
		result.Delays = append(result.Delays, delay)

		// The last error stays the reported cause when the wait is cut short.
		if backoff.Wait(ctx, delay) != nil {
			break
		}
	}

	result.TotalDuration = time.Since(start)
	return zero, result
}

// RetryVoid executes fn with retries for functions that don't return a value.
func RetryVoid(ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) error) *RetryResult {
	_, result := Retry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return result
}
