package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWait(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelExpired()

	tests := []struct {
		name    string
		ctx     context.Context
		d       time.Duration
		wantErr error
		maxWait time.Duration
	}{
		{"completes", context.Background(), 20 * time.Millisecond, nil, time.Second},
		{"zero", cancelled, 0, nil, 10 * time.Millisecond},
		{"negative", context.Background(), -time.Second, nil, 10 * time.Millisecond},
		{"already cancelled", cancelled, time.Second, context.Canceled, 100 * time.Millisecond},
		{"deadline", expired, time.Second, context.DeadlineExceeded, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := Wait(tt.ctx, tt.d)
			elapsed := time.Since(start)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Wait() error = %v, want %v", err, tt.wantErr)
			}
			if elapsed > tt.maxWait {
				t.Fatalf("Wait() took %v, want under %v", elapsed, tt.maxWait)
			}
			if tt.wantErr == nil && tt.d > 0 && elapsed < tt.d {
				t.Fatalf("Wait() returned after %v, before %v", elapsed, tt.d)
			}
		})
	}
}

func TestPolicyWait(t *testing.T) {
	p := Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}

	start := time.Now()
	if err := p.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Wait(1) returned after %v, want at least 10ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() on cancelled ctx = %v", err)
	}
}
