package infra

import (
	"context"
	"time"
)

// WithTimeout races fn against a deadline. When the deadline wins, a
// *TimeoutError is returned and fn is abandoned, not cancelled: it keeps the
// parent context and may still complete later, so fn must be safe to finish
// after its caller has given up. A non-positive timeout runs fn directly.
func WithTimeout[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	type outcome struct {
		val T
		err error
	}
	// Buffered so an abandoned fn can always deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(ctx)
		done <- outcome{val: val, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, &TimeoutError{Op: op, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// WithTimeoutVoid is WithTimeout for operations without a result value.
func WithTimeoutVoid(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	_, err := WithTimeout(ctx, op, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
