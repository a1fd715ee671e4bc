package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/servicedesk/internal/confirmation"
	"github.com/haasonsaas/servicedesk/internal/deadletter"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

// SinkStatus is the final state of one sink write.
type SinkStatus string

const (
	StatusWritten SinkStatus = "written"
	StatusFailed  SinkStatus = "failed"
)

// SinkOutcome is the result of one guarded write.
type SinkOutcome struct {
	Sink      string        `json:"sink"`
	Status    SinkStatus    `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`

	// LetterID is set when the failed payload was dead-lettered.
	LetterID string `json:"letterId,omitempty"`
}

// Confirmation acknowledges a validated confirmation. OK is always true:
// sink failures are contained and reported through Outcomes, logs and
// metrics only.
type Confirmation struct {
	OK         bool          `json:"ok"`
	RepairID   string        `json:"repairId"`
	CustomerID string        `json:"-"`
	Outcomes   []SinkOutcome `json:"-"`
}

// ExecutorConfig holds the optional collaborators of an Executor.
type ExecutorConfig struct {
	Builder     Builder
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Perf        *observability.PerfTracker
	DeadLetters deadletter.Queue
	Now         func() time.Time
}

// Executor validates a confirmation and records it in the row and calendar
// sinks.
type Executor struct {
	row      *Guard
	calendar *Guard

	builder     Builder
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	perf        *observability.PerfTracker
	deadLetters deadletter.Queue
	now         func() time.Time
}

// NewExecutor creates an executor writing rows through row and calendar
// events through calendar. Each guard carries its own breaker.
func NewExecutor(row, calendar *Guard, config ExecutorConfig) *Executor {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Executor{
		row:         row,
		calendar:    calendar,
		builder:     config.Builder,
		logger:      config.Logger.WithFields("component", "effects"),
		metrics:     config.Metrics,
		tracer:      config.Tracer,
		perf:        config.Perf,
		deadLetters: config.DeadLetters,
		now:         config.Now,
	}
}

// ConfirmAndLog validates raw and writes both payloads. The only error it
// returns is a *confirmation.ValidationError.
func (e *Executor) ConfirmAndLog(ctx context.Context, raw []byte) (*Confirmation, error) {
	c, err := confirmation.Validate(raw)
	if err != nil {
		e.metrics.RecordConfirmation("invalid")
		e.logger.Info(ctx, "confirmation rejected", "error", err)
		return nil, err
	}
	return e.ConfirmContext(ctx, c), nil
}

// ConfirmContext writes the payloads of an already validated context. It
// returns once both writes have finished, failed or timed out. Cancelling
// ctx does not stop the writes.
func (e *Executor) ConfirmContext(ctx context.Context, c *confirmation.Context) *Confirmation {
	repairID := RepairIDFor(c.CustomerID)
	ctx = observability.AddCustomerID(ctx, c.CustomerID)
	ctx = observability.AddRepairID(ctx, repairID)
	ctx, span := e.tracer.TraceConfirmation(ctx, c.CustomerID)
	defer span.End()
	handle := e.perf.Start("confirmation.confirm")

	writeCtx := context.WithoutCancel(ctx)
	guards := [2]*Guard{e.row, e.calendar}
	payloads := [2]Payload{e.builder.BuildRow(c), e.builder.BuildCalendarEvent(c)}
	outcomes := make([]SinkOutcome, len(guards))

	var g errgroup.Group
	for i := range guards {
		g.Go(func() error {
			outcomes[i] = e.write(writeCtx, guards[i], payloads[i])
			return nil
		})
	}
	_ = g.Wait()

	result := "written"
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			result = "degraded"
		}
	}
	e.metrics.RecordConfirmation(result)
	e.perf.End(handle, true, "")
	e.tracer.SetAttributes(span, "repair_id", repairID, "result", result)

	e.logger.Info(ctx, "confirmation logged",
		"row", string(outcomes[0].Status),
		"calendar", string(outcomes[1].Status),
	)
	return &Confirmation{OK: true, RepairID: repairID, CustomerID: c.CustomerID, Outcomes: outcomes}
}

func (e *Executor) write(ctx context.Context, guard *Guard, payload Payload) SinkOutcome {
	ctx, span := e.tracer.TraceSinkWrite(ctx, guard.Name(), payload.RepairID())
	defer span.End()
	handle := e.perf.Start("sink." + guard.Name())

	res := guard.Write(ctx, payload)
	outcome := SinkOutcome{
		Sink:     guard.Name(),
		Status:   StatusWritten,
		Attempts: res.Attempts,
		Duration: res.Duration,
	}
	e.tracer.SetAttributes(span, "attempts", res.Attempts)

	if res.Err == nil {
		e.perf.End(handle, true, "")
		e.metrics.RecordSinkWrite(guard.Name(), string(StatusWritten), infra.Classify(nil), res.Duration.Seconds())
		return outcome
	}

	kind := infra.Classify(res.Err)
	outcome.Status = StatusFailed
	outcome.Reason = res.Err.Error()
	outcome.ErrorKind = kind
	e.perf.End(handle, false, kind)
	e.metrics.RecordSinkWrite(guard.Name(), string(StatusFailed), kind, res.Duration.Seconds())
	e.tracer.RecordError(span, res.Err)

	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf("%q", fmt.Sprintf("%+v", payload)))
	}
	e.logger.Error(ctx, "sink write failed",
		"sink", guard.Name(),
		"attempts", res.Attempts,
		"error_kind", kind,
		"error", res.Err,
		"payload", string(body),
	)

	if e.deadLetters != nil {
		letter := deadletter.NewLetter(guard.Name(), payload.RepairID(), body, outcome.Reason, kind, e.now())
		if err := e.deadLetters.Enqueue(ctx, letter); err != nil {
			e.logger.Error(ctx, "failed to enqueue dead letter", "sink", guard.Name(), "error", err)
		} else {
			outcome.LetterID = letter.ID
			e.metrics.RecordDeadLetter(guard.Name(), string(deadletter.StatePending))
		}
	}
	return outcome
}

// Redeliver writes a dead-lettered payload to sink again through its guard.
func (e *Executor) Redeliver(ctx context.Context, sink string, payload json.RawMessage) error {
	guard, kind, err := e.guardFor(sink)
	if err != nil {
		return err
	}
	p, err := DecodePayload(kind, payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", sink, err)
	}
	return guard.Write(ctx, p).Err
}

func (e *Executor) guardFor(sink string) (*Guard, Kind, error) {
	switch sink {
	case e.row.Name():
		return e.row, KindRow, nil
	case e.calendar.Name():
		return e.calendar, KindCalendar, nil
	default:
		return nil, "", fmt.Errorf("unknown sink %q", sink)
	}
}

// Breakers returns the row and calendar breakers.
func (e *Executor) Breakers() []*infra.CircuitBreaker {
	return []*infra.CircuitBreaker{e.row.Breaker(), e.calendar.Breaker()}
}
