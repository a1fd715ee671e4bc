package effects

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/haasonsaas/servicedesk/internal/backoff"
	"github.com/haasonsaas/servicedesk/internal/infra"
)

func fastGuardConfig(timeout time.Duration) GuardConfig {
	return GuardConfig{
		Timeout: timeout,
		Retry: &infra.RetryConfig{
			MaxRetries: 2,
			Backoff: backoff.Policy{
				BaseDelay:  time.Millisecond,
				MaxDelay:   2 * time.Millisecond,
				Multiplier: 2,
			},
		},
	}
}

func countingSink(name string, fn func(n int32) (WriteOutcome, error)) (Sink, *atomic.Int32) {
	var calls atomic.Int32
	return SinkFunc{
		SinkName: name,
		Fn: func(ctx context.Context, payload Payload) (WriteOutcome, error) {
			return fn(calls.Add(1))
		},
	}, &calls
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	sink, calls := countingSink("row", func(n int32) (WriteOutcome, error) {
		if n < 3 {
			return WriteOutcome{}, syscall.ECONNRESET
		}
		return WriteOutcome{Success: true}, nil
	})
	g := NewGuard(sink, NewSinkBreaker("row", 3, time.Minute, nil, nil), fastGuardConfig(time.Second), nil, nil)

	res := g.Write(context.Background(), Row{Repair: "REP_SCHEDULED_X"})
	if res.Err != nil {
		t.Fatalf("Write() error = %v", res.Err)
	}
	if res.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", res.Attempts, calls.Load())
	}
	if g.Breaker().State() != infra.CircuitClosed {
		t.Errorf("breaker state = %s", g.Breaker().State())
	}
}

func TestGuard_RejectedWriteIsNotRetried(t *testing.T) {
	sink, calls := countingSink("row", func(n int32) (WriteOutcome, error) {
		return WriteOutcome{Success: false, ErrorDetail: "sheet locked"}, nil
	})
	g := NewGuard(sink, NewSinkBreaker("row", 3, time.Minute, nil, nil), fastGuardConfig(time.Second), nil, nil)

	res := g.Write(context.Background(), Row{})
	var writeErr *SinkWriteError
	if !errors.As(res.Err, &writeErr) || writeErr.Detail != "sheet locked" {
		t.Fatalf("Write() error = %v, want SinkWriteError", res.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if res.Err.Error() != "sink row rejected write: sheet locked" {
		t.Errorf("message = %q", res.Err.Error())
	}
}

func TestGuard_PanickingSinkIsRejected(t *testing.T) {
	sink, calls := countingSink("row", func(n int32) (WriteOutcome, error) {
		panic("nil sheet handle")
	})
	g := NewGuard(sink, NewSinkBreaker("row", 3, time.Minute, nil, nil), fastGuardConfig(time.Second), nil, nil)

	res := g.Write(context.Background(), Row{})
	var writeErr *SinkWriteError
	if !errors.As(res.Err, &writeErr) || writeErr.Detail != "panic: nil sheet handle" {
		t.Fatalf("Write() error = %v, want SinkWriteError", res.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGuard_TimeoutAbandonsAttempt(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sink := SinkFunc{SinkName: "calendar", Fn: func(ctx context.Context, payload Payload) (WriteOutcome, error) {
		<-release
		return WriteOutcome{Success: true}, nil
	}}
	cfg := fastGuardConfig(20 * time.Millisecond)
	cfg.Retry.MaxRetries = 0
	g := NewGuard(sink, NewSinkBreaker("calendar", 3, time.Minute, nil, nil), cfg, nil, nil)

	start := time.Now()
	res := g.Write(context.Background(), CalendarEvent{})
	if !infra.IsTimeout(res.Err) {
		t.Fatalf("Write() error = %v, want timeout", res.Err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timed out write took %v", elapsed)
	}
}

func TestGuard_BreakerCountsExhaustedSequences(t *testing.T) {
	sink, calls := countingSink("row", func(n int32) (WriteOutcome, error) {
		return WriteOutcome{}, syscall.ECONNREFUSED
	})
	g := NewGuard(sink, NewSinkBreaker("row", 2, time.Minute, nil, nil), fastGuardConfig(time.Second), nil, nil)

	g.Write(context.Background(), Row{})
	if g.Breaker().State() != infra.CircuitClosed {
		t.Fatalf("one exhausted sequence opened the breaker")
	}
	g.Write(context.Background(), Row{})
	if g.Breaker().State() != infra.CircuitOpen {
		t.Fatalf("breaker state = %s, want open", g.Breaker().State())
	}
	if calls.Load() != 6 {
		t.Errorf("calls = %d, want 6", calls.Load())
	}

	res := g.Write(context.Background(), Row{})
	if !errors.Is(res.Err, infra.ErrCircuitOpen) {
		t.Errorf("Write() error = %v, want circuit open", res.Err)
	}
	if res.Attempts != 0 || calls.Load() != 6 {
		t.Errorf("open breaker reached the sink: attempts=%d calls=%d", res.Attempts, calls.Load())
	}
}
