// Package repair exposes repair scheduling to the agent layer as tools.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/confirmation"
	"github.com/haasonsaas/servicedesk/internal/effects"
	"github.com/haasonsaas/servicedesk/internal/observability"
	"github.com/haasonsaas/servicedesk/internal/sessions"
)

// SchedulerAgent is recorded on the session when a repair is confirmed.
const SchedulerAgent = "repair-scheduler"

// Confirmer validates and logs a confirmation.
type Confirmer interface {
	ConfirmAndLog(ctx context.Context, raw []byte) (*effects.Confirmation, error)
}

// ConfirmTool confirms a repair appointment and logs it to the row and
// calendar sinks.
type ConfirmTool struct {
	confirmer Confirmer
	sessions  sessions.Store
	logger    *observability.Logger
	now       func() time.Time
}

// NewConfirmTool creates the confirm tool. store and logger may be nil.
func NewConfirmTool(confirmer Confirmer, store sessions.Store, logger *observability.Logger) *ConfirmTool {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ConfirmTool{confirmer: confirmer, sessions: store, logger: logger, now: time.Now}
}

func (t *ConfirmTool) Name() string { return "confirm_repair_and_log" }

func (t *ConfirmTool) Description() string {
	return "Confirm a repair visit the customer agreed to and record it in the repair log and calendar. " +
		"Call once the customer has confirmed the appointment time and contact details."
}

func (t *ConfirmTool) Schema() json.RawMessage {
	return confirmation.Schema()
}

// Execute validates params and logs the confirmation. Validation problems are
// returned as an error result listing every field.
func (t *ConfirmTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.confirmer == nil {
		return agent.ErrorResult("repair scheduling unavailable"), nil
	}

	result, err := t.confirmer.ConfirmAndLog(ctx, params)
	if err != nil {
		var verr *confirmation.ValidationError
		if errors.As(err, &verr) {
			return agent.ErrorResult("%s", formatValidation(verr)), nil
		}
		return nil, fmt.Errorf("confirm repair: %w", err)
	}

	t.touchSession(ctx, result.CustomerID)
	return agent.JSONResult(result)
}

// touchSession records the scheduler on the session. The confirmed customer
// wins over whatever customer the request context carried.
func (t *ConfirmTool) touchSession(ctx context.Context, customerID string) {
	sessionID := observability.GetSessionID(ctx)
	if t.sessions == nil || sessionID == "" {
		return
	}
	if customerID == "" {
		customerID = observability.GetCustomerID(ctx)
	}
	key := sessions.KeyFor(customerID, sessionID)
	if _, err := sessions.Touch(ctx, t.sessions, key, SchedulerAgent, t.now()); err != nil {
		t.logger.Warn(ctx, "failed to touch session", "session", key.String(), "error", err)
	}
}

func formatValidation(err *confirmation.ValidationError) string {
	var b strings.Builder
	b.WriteString("The confirmation is incomplete or invalid. Ask the customer for:")
	for _, f := range err.Fields {
		fmt.Fprintf(&b, "\n- %s: %s", f.Field, f.Message)
	}
	return b.String()
}
