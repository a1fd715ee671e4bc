package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/servicedesk/internal/agent"
	"github.com/haasonsaas/servicedesk/internal/observability"
	"github.com/haasonsaas/servicedesk/internal/sessions"
)

// SessionTool reads and writes the customer profile remembered for the
// current session.
type SessionTool struct {
	store sessions.Store
	now   func() time.Time
}

// NewSessionTool creates the session tool.
func NewSessionTool(store sessions.Store) *SessionTool {
	return &SessionTool{store: store, now: time.Now}
}

func (t *SessionTool) Name() string { return "customer_session" }

func (t *SessionTool) Description() string {
	return "Get, remember or clear the customer identified in this conversation. " +
		"Remember the customer after a successful lookup so later turns skip identification."
}

func (t *SessionTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["get", "remember", "clear"],
				"description": "Operation to perform"
			},
			"customerId": {
				"type": "string",
				"description": "Customer id, when known"
			},
			"agent": {
				"type": "string",
				"description": "Agent recorded as the current handler"
			},
			"profile": {
				"type": "object",
				"description": "Customer profile to remember",
				"properties": {
					"customerId": {"type": "string"},
					"storeName": {"type": "string"},
					"email": {"type": "string"},
					"phone": {"type": "string"},
					"location": {"type": "string"}
				}
			}
		},
		"required": ["action"]
	}`)
}

// SessionInput is the input for the session tool.
type SessionInput struct {
	Action     string        `json:"action"`
	CustomerID string        `json:"customerId,omitempty"`
	Agent      string        `json:"agent,omitempty"`
	Profile    *ProfileInput `json:"profile,omitempty"`
}

// ProfileInput is the remembered customer.
type ProfileInput struct {
	CustomerID string `json:"customerId"`
	StoreName  string `json:"storeName"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Location   string `json:"location,omitempty"`
}

type sessionOutput struct {
	Action  string            `json:"action"`
	Found   bool              `json:"found"`
	Profile *sessions.Profile `json:"profile,omitempty"`
}

// Execute runs the requested action against the current session.
func (t *SessionTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.store == nil {
		return agent.ErrorResult("session store unavailable"), nil
	}

	var input SessionInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	sessionID := observability.GetSessionID(ctx)
	if sessionID == "" {
		return agent.ErrorResult("no session in context"), nil
	}

	customerID := strings.TrimSpace(input.CustomerID)
	if customerID == "" && input.Profile != nil {
		customerID = strings.TrimSpace(input.Profile.CustomerID)
	}
	if customerID == "" {
		customerID = observability.GetCustomerID(ctx)
	}
	key := sessions.KeyFor(customerID, sessionID)

	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "get":
		profile, ok, err := t.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		return agent.JSONResult(sessionOutput{Action: "get", Found: ok, Profile: profile})

	case "remember":
		if input.Profile == nil || strings.TrimSpace(input.Profile.CustomerID) == "" {
			return agent.ErrorResult("profile.customerId is required to remember a customer"), nil
		}
		profile, err := sessions.Remember(ctx, t.store, key, sessions.Profile{
			CustomerID: strings.TrimSpace(input.Profile.CustomerID),
			StoreName:  strings.TrimSpace(input.Profile.StoreName),
			Email:      strings.TrimSpace(input.Profile.Email),
			Phone:      strings.TrimSpace(input.Profile.Phone),
			Location:   strings.TrimSpace(input.Profile.Location),
		}, input.Agent, t.now())
		if err != nil {
			return nil, fmt.Errorf("remember session: %w", err)
		}
		return agent.JSONResult(sessionOutput{Action: "remember", Found: true, Profile: profile})

	case "clear":
		if err := t.store.Clear(ctx, key); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}
		return agent.JSONResult(sessionOutput{Action: "clear"})

	default:
		return agent.ErrorResult("unknown action %q: use get, remember or clear", input.Action), nil
	}
}
