package infra

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithTimeout_CompletesInTime(t *testing.T) {
	val, err := WithTimeout(context.Background(), "fast", 100*time.Millisecond, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "done" {
		t.Errorf("val = %q, want done", val)
	}
}

func TestWithTimeout_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	_, err := WithTimeout(context.Background(), "op", 100*time.Millisecond, func(ctx context.Context) (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestWithTimeout_ExpiresAndAbandons(t *testing.T) {
	var finished int32
	release := make(chan struct{})

	start := time.Now()
	err := WithTimeoutVoid(context.Background(), "calendar.write", 20*time.Millisecond, func(ctx context.Context) error {
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	})
	elapsed := time.Since(start)

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.Op != "calendar.write" || timeout.After != 20*time.Millisecond {
		t.Errorf("unexpected timeout error: %+v", timeout)
	}
	if !IsTransient(err) {
		t.Error("timeouts must be transient")
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	// The abandoned operation is still allowed to finish.
	close(release)
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&finished) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("abandoned operation never completed")
	}
}

func TestWithTimeout_OperationContextNotCancelledOnExpiry(t *testing.T) {
	ctxErr := make(chan error, 1)
	_ = WithTimeoutVoid(context.Background(), "op", 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		ctxErr <- ctx.Err()
		return nil
	})

	select {
	case err := <-ctxErr:
		if err != nil {
			t.Errorf("operation context was cancelled: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("operation did not report")
	}
}

func TestWithTimeout_ZeroTimeoutRunsDirectly(t *testing.T) {
	val, err := WithTimeout(context.Background(), "op", 0, func(ctx context.Context) (int, error) {
		return 3, nil
	})
	if err != nil || val != 3 {
		t.Errorf("got %d, %v", val, err)
	}
}

func TestWithTimeout_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, "op", time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
