package effects

import (
	"context"
	"fmt"
)

// WriteOutcome is a sink's answer to one write.
type WriteOutcome struct {
	Success     bool   `json:"success"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// Sink durably records one side effect of a confirmation. Writes must be
// idempotent per repair id: a write abandoned on timeout may still land, and
// retries and replays send the same payload again.
type Sink interface {
	Name() string
	Write(ctx context.Context, payload Payload) (WriteOutcome, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, payload Payload) (WriteOutcome, error)
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Write(ctx context.Context, payload Payload) (WriteOutcome, error) {
	return s.Fn(ctx, payload)
}

// SinkWriteError is a write the sink answered but refused. It is not retried.
type SinkWriteError struct {
	Sink   string
	Detail string
}

func (e *SinkWriteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sink %s rejected write", e.Sink)
	}
	return fmt.Sprintf("sink %s rejected write: %s", e.Sink, e.Detail)
}
