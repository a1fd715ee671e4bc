package observability

import (
	"context"
	"sync"
	"time"
)

// PerfConfig configures a PerfTracker.
type PerfConfig struct {
	// BufferSize bounds the rolling buffer (most recent operations). Default 1000.
	BufferSize int

	// SlowThreshold logs a warning when exceeded. Default 2s.
	SlowThreshold time.Duration

	// VerySlowThreshold logs an error when exceeded. Default 5s.
	VerySlowThreshold time.Duration

	// Window is the trailing window used by DefaultSummary. Default 5m.
	Window time.Duration

	// ErrorKind labels the error of a failed Track call. Default "error".
	ErrorKind func(error) string

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// DefaultPerfConfig returns the default tracker configuration.
func DefaultPerfConfig() PerfConfig {
	return PerfConfig{
		BufferSize:        1000,
		SlowThreshold:     2 * time.Second,
		VerySlowThreshold: 5 * time.Second,
		Window:            5 * time.Minute,
	}
}

// OperationRecord is one finished operation.
type OperationRecord struct {
	Operation string        `json:"operation"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// PerfHandle identifies an operation between Start and End.
// The zero value is ignored by End.
type PerfHandle struct {
	op      string
	started time.Time
}

// PerfSummary aggregates the operations that finished inside a window.
type PerfSummary struct {
	Window          time.Duration `json:"window"`
	Count           int           `json:"count"`
	AverageDuration time.Duration `json:"average_duration"`
	SuccessRate     float64       `json:"success_rate"`
	SlowCount       int           `json:"slow_count"`
	VerySlowCount   int           `json:"very_slow_count"`
}

// PerfTracker keeps a bounded rolling buffer of operation timings and flags
// slow operations. All methods are safe on a nil tracker and never panic
// into the measured operation.
type PerfTracker struct {
	mu      sync.Mutex
	config  PerfConfig
	logger  *Logger
	metrics *Metrics

	records []OperationRecord
	next    int
	filled  bool
}

// NewPerfTracker creates a tracker. logger and metrics may be nil.
func NewPerfTracker(config PerfConfig, logger *Logger, metrics *Metrics) *PerfTracker {
	defaults := DefaultPerfConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = defaults.SlowThreshold
	}
	if config.VerySlowThreshold <= 0 {
		config.VerySlowThreshold = defaults.VerySlowThreshold
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.ErrorKind == nil {
		config.ErrorKind = func(error) string { return "error" }
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &PerfTracker{
		config:  config,
		logger:  logger,
		metrics: metrics,
		records: make([]OperationRecord, config.BufferSize),
	}
}

// Start begins timing op.
func (t *PerfTracker) Start(op string) PerfHandle {
	if t == nil {
		return PerfHandle{}
	}
	return PerfHandle{op: op, started: t.config.Now()}
}

// End finishes the operation identified by h.
func (t *PerfTracker) End(h PerfHandle, success bool, errorKind string) {
	if t == nil || h.op == "" {
		return
	}
	defer func() { _ = recover() }()

	duration := t.config.Now().Sub(h.started)
	record := OperationRecord{
		Operation: h.op,
		Started:   h.started,
		Duration:  duration,
		Success:   success,
		ErrorKind: errorKind,
	}

	t.mu.Lock()
	t.records[t.next] = record
	t.next = (t.next + 1) % len(t.records)
	if t.next == 0 {
		t.filled = true
	}
	t.mu.Unlock()

	ctx := context.Background()
	switch {
	case duration > t.config.VerySlowThreshold:
		t.metrics.RecordSlowOperation(h.op, "very_slow")
		if t.logger != nil {
			t.logger.Error(ctx, "very slow operation",
				"operation", h.op,
				"duration_ms", duration.Milliseconds(),
				"threshold_ms", t.config.VerySlowThreshold.Milliseconds(),
				"success", success,
			)
		}
	case duration > t.config.SlowThreshold:
		t.metrics.RecordSlowOperation(h.op, "slow")
		if t.logger != nil {
			t.logger.Warn(ctx, "slow operation",
				"operation", h.op,
				"duration_ms", duration.Milliseconds(),
				"threshold_ms", t.config.SlowThreshold.Milliseconds(),
				"success", success,
			)
		}
	}
}

// Track times fn and returns its error unchanged.
func (t *PerfTracker) Track(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	h := t.Start(op)
	err := fn(ctx)
	if err != nil {
		kind := "error"
		if t != nil {
			kind = t.config.ErrorKind(err)
		}
		t.End(h, false, kind)
		return err
	}
	t.End(h, true, "")
	return nil
}

// Recent returns up to n of the most recent records, newest first.
func (t *PerfTracker) Recent(n int) []OperationRecord {
	if t == nil || n <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.next
	if t.filled {
		size = len(t.records)
	}
	if n > size {
		n = size
	}
	out := make([]OperationRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.records)) % len(t.records)
		out = append(out, t.records[idx])
	}
	return out
}

// Summary aggregates operations that finished within the trailing window.
func (t *PerfTracker) Summary(window time.Duration) PerfSummary {
	summary := PerfSummary{Window: window}
	if t == nil {
		return summary
	}
	cutoff := t.config.Now().Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.next
	if t.filled {
		size = len(t.records)
	}
	var total time.Duration
	successes := 0
	for i := 0; i < size; i++ {
		r := t.records[i]
		if r.Started.Add(r.Duration).Before(cutoff) {
			continue
		}
		summary.Count++
		total += r.Duration
		if r.Success {
			successes++
		}
		if r.Duration > t.config.SlowThreshold {
			summary.SlowCount++
		}
		if r.Duration > t.config.VerySlowThreshold {
			summary.VerySlowCount++
		}
	}
	if summary.Count > 0 {
		summary.AverageDuration = total / time.Duration(summary.Count)
		summary.SuccessRate = float64(successes) / float64(summary.Count)
	}
	return summary
}

// DefaultSummary is Summary over the configured window.
func (t *PerfTracker) DefaultSummary() PerfSummary {
	if t == nil {
		return PerfSummary{}
	}
	return t.Summary(t.config.Window)
}
