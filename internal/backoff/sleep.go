package backoff

import (
	"context"
	"time"
)

// Wait blocks for d or until ctx is done, returning ctx.Err() in the latter
// case. Non-positive durations return immediately.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks for the delay before retry attempt.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	return Wait(ctx, p.Delay(attempt))
}
