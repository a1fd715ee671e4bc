package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/servicedesk/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ValidateSchedule checks a replay schedule expression.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(strings.TrimSpace(expr)); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Redeliverer writes a stored payload to its sink again. Sinks upsert by
// repair id, so redelivery is idempotent.
type Redeliverer interface {
	Redeliver(ctx context.Context, sink string, payload json.RawMessage) error
}

// ReplayConfig configures a Replayer.
type ReplayConfig struct {
	// MaxAttempts abandons a letter after this many failed replays. Default 5.
	MaxAttempts int

	// BatchSize bounds letters per run. Default 100.
	BatchSize int

	Now func() time.Time
}

// ReplayStats summarizes one replay run.
type ReplayStats struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Replayer drains pending letters through a Redeliverer.
type Replayer struct {
	queue   Queue
	target  Redeliverer
	config  ReplayConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// NewReplayer creates a replayer. logger and metrics may be nil.
func NewReplayer(queue Queue, target Redeliverer, config ReplayConfig, logger *observability.Logger, metrics *observability.Metrics) *Replayer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Replayer{
		queue:   queue,
		target:  target,
		config:  config,
		logger:  logger.WithFields("component", "deadletter"),
		metrics: metrics,
	}
}

// ErrReplayRunning is returned when a run is already in progress.
var ErrReplayRunning = errors.New("dead letter replay already running")

// begin marks a run in progress. The returned func ends it.
func (r *Replayer) begin() (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, ErrReplayRunning
	}
	r.running = true
	return func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}, nil
}

// ReplayOnce replays up to BatchSize pending letters, oldest first.
func (r *Replayer) ReplayOnce(ctx context.Context) (ReplayStats, error) {
	done, err := r.begin()
	if err != nil {
		return ReplayStats{}, err
	}
	defer done()

	letters, err := r.queue.List(ctx, Filter{State: StatePending, Limit: r.config.BatchSize})
	if err != nil {
		return ReplayStats{}, err
	}

	var stats ReplayStats
	for _, letter := range letters {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++
		if err := r.replay(ctx, letter, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// ReplayID replays one letter regardless of its attempt count. It fails with
// ErrReplayRunning while a batch run is in progress.
func (r *Replayer) ReplayID(ctx context.Context, id string) (*Letter, error) {
	done, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	letter, err := r.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if letter.State == StateDelivered {
		return letter, nil
	}
	var stats ReplayStats
	if err := r.replay(ctx, letter, &stats); err != nil {
		return nil, err
	}
	return letter, nil
}

func (r *Replayer) replay(ctx context.Context, letter *Letter, stats *ReplayStats) error {
	deliverErr := r.target.Redeliver(ctx, letter.Sink, letter.Payload)
	letter.Attempts++
	letter.UpdatedAt = r.config.Now()

	switch {
	case deliverErr == nil:
		letter.State = StateDelivered
		stats.Delivered++
		r.logger.Info(ctx, "dead letter delivered",
			"letter_id", letter.ID,
			"sink", letter.Sink,
			"repair_id", letter.RepairID,
			"attempts", letter.Attempts,
		)
	case letter.Attempts >= r.config.MaxAttempts:
		letter.State = StateAbandoned
		letter.Reason = deliverErr.Error()
		stats.Abandoned++
		r.logger.Error(ctx, "dead letter abandoned",
			"letter_id", letter.ID,
			"sink", letter.Sink,
			"repair_id", letter.RepairID,
			"attempts", letter.Attempts,
			"error", deliverErr,
			"payload", letter.Payload,
		)
	default:
		letter.Reason = deliverErr.Error()
		stats.Failed++
		r.logger.Warn(ctx, "dead letter replay failed",
			"letter_id", letter.ID,
			"sink", letter.Sink,
			"attempts", letter.Attempts,
			"error", deliverErr,
		)
	}

	if letter.State != StatePending {
		r.metrics.RecordDeadLetter(letter.Sink, string(letter.State))
	}
	return r.queue.Update(ctx, letter)
}

// Start runs ReplayOnce on schedule until Stop.
func (r *Replayer) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("replayer already started")
	}

	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(strings.TrimSpace(schedule), func() {
		ctx := context.Background()
		stats, err := r.ReplayOnce(ctx)
		if err != nil && !errors.Is(err, ErrReplayRunning) {
			r.logger.Error(ctx, "dead letter replay run failed", "error", err)
			return
		}
		if stats.Attempted > 0 {
			r.logger.Info(ctx, "dead letter replay run",
				"attempted", stats.Attempted,
				"delivered", stats.Delivered,
				"failed", stats.Failed,
				"abandoned", stats.Abandoned,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and waits for a running replay to finish.
func (r *Replayer) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
