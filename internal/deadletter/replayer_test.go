package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeTarget) Redeliver(ctx context.Context, sink string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sink)
	if f.fail[sink] {
		return errors.New(sink + " still down")
	}
	return nil
}

func seed(t *testing.T, q Queue, sinks ...string) []*Letter {
	t.Helper()
	base := time.Date(2025, 9, 19, 9, 0, 0, 0, time.UTC)
	var out []*Letter
	for i, sink := range sinks {
		l := NewLetter(sink, "REP_SCHEDULED_CUST009", json.RawMessage(`{}`), "initial failure", "transient", base.Add(time.Duration(i)*time.Second))
		if err := q.Enqueue(context.Background(), l); err != nil {
			t.Fatal(err)
		}
		out = append(out, l)
	}
	return out
}

func TestReplayer_DeliversAndRetries(t *testing.T) {
	q := NewMemoryQueue()
	letters := seed(t, q, "row", "calendar")
	target := &fakeTarget{fail: map[string]bool{"calendar": true}}
	r := NewReplayer(q, target, ReplayConfig{MaxAttempts: 2}, nil, nil)

	stats, err := r.ReplayOnce(context.Background())
	if err != nil {
		t.Fatalf("ReplayOnce() error = %v", err)
	}
	if stats != (ReplayStats{Attempted: 2, Delivered: 1, Failed: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	row, _ := q.Get(context.Background(), letters[0].ID)
	if row.State != StateDelivered || row.Attempts != 1 {
		t.Errorf("row letter = %+v", row)
	}
	cal, _ := q.Get(context.Background(), letters[1].ID)
	if cal.State != StatePending || cal.Attempts != 1 || cal.Reason != "calendar still down" {
		t.Errorf("calendar letter = %+v", cal)
	}

	stats, _ = r.ReplayOnce(context.Background())
	if stats != (ReplayStats{Attempted: 1, Abandoned: 1}) {
		t.Errorf("second run stats = %+v", stats)
	}
	cal, _ = q.Get(context.Background(), letters[1].ID)
	if cal.State != StateAbandoned {
		t.Errorf("calendar letter should be abandoned, got %s", cal.State)
	}

	stats, _ = r.ReplayOnce(context.Background())
	if stats.Attempted != 0 {
		t.Errorf("nothing should be pending, attempted %d", stats.Attempted)
	}
}

func TestReplayer_ReplayID(t *testing.T) {
	q := NewMemoryQueue()
	letters := seed(t, q, "row")
	target := &fakeTarget{}
	r := NewReplayer(q, target, ReplayConfig{}, nil, nil)

	got, err := r.ReplayID(context.Background(), letters[0].ID)
	if err != nil {
		t.Fatalf("ReplayID() error = %v", err)
	}
	if got.State != StateDelivered {
		t.Errorf("State = %s, want delivered", got.State)
	}

	// Delivered letters are not sent again.
	if _, err := r.ReplayID(context.Background(), letters[0].ID); err != nil {
		t.Fatal(err)
	}
	if len(target.calls) != 1 {
		t.Errorf("redeliver calls = %d, want 1", len(target.calls))
	}

	if _, err := r.ReplayID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplayID(missing) error = %v", err)
	}
}

type blockingTarget struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTarget) Redeliver(ctx context.Context, sink string, payload json.RawMessage) error {
	b.started <- struct{}{}
	<-b.release
	return nil
}

func TestReplayer_ReplayIDWaitsForRun(t *testing.T) {
	q := NewMemoryQueue()
	letters := seed(t, q, "row")
	target := &blockingTarget{started: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewReplayer(q, target, ReplayConfig{}, nil, nil)

	runDone := make(chan error, 1)
	go func() {
		_, err := r.ReplayOnce(context.Background())
		runDone <- err
	}()
	<-target.started

	if _, err := r.ReplayID(context.Background(), letters[0].ID); !errors.Is(err, ErrReplayRunning) {
		t.Errorf("ReplayID() during run error = %v, want ErrReplayRunning", err)
	}

	close(target.release)
	if err := <-runDone; err != nil {
		t.Fatalf("ReplayOnce() error = %v", err)
	}

	got, _ := q.Get(context.Background(), letters[0].ID)
	if got.State != StateDelivered || got.Attempts != 1 {
		t.Errorf("letter = %+v, want one delivery", got)
	}

	// The guard is released once the run ends.
	if _, err := r.ReplayID(context.Background(), letters[0].ID); err != nil {
		t.Errorf("ReplayID() after run error = %v", err)
	}
}

func TestReplayer_StartRejectsBadSchedule(t *testing.T) {
	r := NewReplayer(NewMemoryQueue(), &fakeTarget{}, ReplayConfig{}, nil, nil)
	if err := r.Start("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestReplayer_StartStop(t *testing.T) {
	q := NewMemoryQueue()
	seed(t, q, "row")
	target := &fakeTarget{}
	r := NewReplayer(q, target, ReplayConfig{}, nil, nil)

	if err := r.Start("@every 10ms"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start("@every 10ms"); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ := q.List(context.Background(), Filter{State: StatePending})
		if len(pending) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	pending, _ := q.List(context.Background(), Filter{State: StatePending})
	if len(pending) != 0 {
		t.Errorf("scheduled replay did not drain the queue: %d pending", len(pending))
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */10 * * * *", "@every 1m", "@hourly"} {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q) error = %v", expr, err)
		}
	}
	if err := ValidateSchedule("every now and then"); err == nil {
		t.Error("expected error for invalid expression")
	}
}
