// Package deadletter records sink writes that failed after every retry so
// operators can inspect and replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is a letter's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateAbandoned State = "abandoned"
)

// ErrNotFound is returned for unknown letter ids.
var ErrNotFound = errors.New("dead letter not found")

// Letter is one failed sink write.
type Letter struct {
	ID        string          `json:"id"`
	Sink      string          `json:"sink"`
	RepairID  string          `json:"repair_id"`
	Payload   json.RawMessage `json:"payload"`
	Reason    string          `json:"reason"`
	ErrorKind string          `json:"error_kind"`

	// Attempts counts replays, not the retries of the original write.
	Attempts  int       `json:"attempts"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLetter creates a pending letter with a fresh id.
func NewLetter(sink, repairID string, payload json.RawMessage, reason, errorKind string, now time.Time) *Letter {
	return &Letter{
		ID:        uuid.NewString(),
		Sink:      sink,
		RepairID:  repairID,
		Payload:   payload,
		Reason:    reason,
		ErrorKind: errorKind,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Filter selects letters. Zero values match everything.
type Filter struct {
	State State
	Sink  string
	Limit int
}

func (f Filter) matches(l *Letter) bool {
	if f.State != "" && l.State != f.State {
		return false
	}
	if f.Sink != "" && l.Sink != f.Sink {
		return false
	}
	return true
}

// Queue stores letters. List returns letters oldest first.
type Queue interface {
	Enqueue(ctx context.Context, letter *Letter) error
	Get(ctx context.Context, id string) (*Letter, error)
	List(ctx context.Context, filter Filter) ([]*Letter, error)
	Update(ctx context.Context, letter *Letter) error
	Close() error
}
