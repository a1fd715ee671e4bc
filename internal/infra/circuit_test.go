package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 9, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func failing(ctx context.Context) error { return errors.New("test error") }
func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	for i := 0; i < 10; i++ {
		if err := cb.Execute(context.Background(), succeeding); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cb.State() != CircuitClosed {
		t.Errorf("expected state to remain closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), succeeding)
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after non-consecutive failures, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected state to be open after %d failures, got %s", 3, cb.State())
	}
}

func TestCircuitBreaker_RejectsWithoutInvokingWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "row-sink",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) || openErr.Name != "row-sink" {
		t.Errorf("expected CircuitOpenError for row-sink, got %#v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("wrapped operation invoked %d times while open", calls)
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		Now:              clock.Now,
	})

	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open")
	}

	clock.Advance(9 * time.Second)
	if err := cb.Execute(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before recovery timeout, got %v", err)
	}

	clock.Advance(time.Second)
	if err := cb.Execute(context.Background(), succeeding); err != nil {
		t.Fatalf("expected trial call to be allowed, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful trial, got %s", cb.State())
	}
	if stats := cb.Stats(); stats.Failures != 0 {
		t.Errorf("expected failure counter reset, got %d", stats.Failures)
	}
}

func TestCircuitBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
	})

	_ = cb.Execute(context.Background(), failing)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open during trial, got %s", cb.State())
	}

	var calls int32
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected second call during trial to be rejected, got %v", err)
	}
	if calls != 0 {
		t.Errorf("second call was invoked during trial")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after trial success, got %s", cb.State())
	}
}

func TestCircuitBreaker_ReopensOnFailureInHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		Now:              clock.Now,
	})

	_ = cb.Execute(context.Background(), failing)
	firstFailure := cb.Stats().LastFailure

	clock.Advance(10 * time.Second)
	_ = cb.Execute(context.Background(), failing)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to reopen after failed trial, got %s", cb.State())
	}
	if !cb.Stats().LastFailure.After(firstFailure) {
		t.Errorf("expected failure timestamp to be refreshed")
	}

	// The refreshed timestamp restarts the recovery window.
	clock.Advance(5 * time.Second)
	if err := cb.Execute(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected open within refreshed window, got %v", err)
	}
}

func TestCircuitBreaker_CanceledDoesNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return context.Canceled
	})

	if cb.State() != CircuitClosed {
		t.Errorf("expected cancellation to be ignored, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	var mu sync.Mutex

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "calendar-sink",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		OnStateChange: func(name string, from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, name+":"+string(from)+"->"+string(to))
			mu.Unlock()
		},
	})

	_ = cb.Execute(context.Background(), failing)

	// Wait for callback
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "calendar-sink:closed->open" {
		t.Errorf("expected transition closed->open, got %v", transitions)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit to be closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeeding); err != nil {
		t.Errorf("unexpected error after reset: %v", err)
	}
}

func TestExecuteWithResult_ReturnsZeroWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	_, _ = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("error")
	})

	result, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value when open, got %d", result)
	}
}

func TestCircuitBreakerRegistry_Isolation(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	rows := registry.Get("row")
	calendar := registry.Get("calendar")
	if rows == calendar {
		t.Fatal("expected distinct breakers per dependency")
	}
	if registry.Get("row") != rows {
		t.Error("expected same breaker for same name")
	}

	_ = calendar.Execute(context.Background(), failing)

	if calendar.State() != CircuitOpen {
		t.Errorf("calendar breaker should be open")
	}
	if rows.State() != CircuitClosed {
		t.Errorf("row breaker must not be tripped by calendar failures")
	}

	open := registry.OpenCircuits()
	if len(open) != 1 || open[0] != "calendar" {
		t.Errorf("OpenCircuits() = %v, want [calendar]", open)
	}

	stats := registry.Stats()
	if len(stats) != 2 || stats[0].Name != "calendar" || stats[1].Name != "row" {
		t.Errorf("Stats() not sorted by name: %+v", stats)
	}

	registry.ResetAll()
	if len(registry.OpenCircuits()) != 0 {
		t.Error("expected no open circuits after ResetAll")
	}
}
