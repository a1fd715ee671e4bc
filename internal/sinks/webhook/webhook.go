// Package webhook implements effect sinks that POST payloads to an HTTP
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/servicedesk/internal/effects"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

const maxResponseBytes = 64 << 10

// Config configures one webhook sink.
type Config struct {
	// Name identifies the sink in logs, metrics and dead letters.
	Name string

	URL    string
	Method string
	Token  string

	Headers map[string]string

	// RateLimit is the sustained request rate per second. Zero disables
	// limiting.
	RateLimit float64
	Burst     int

	Client *http.Client
}

// Sink writes payloads to a webhook. The receiver must upsert by the
// Idempotency-Key header, which carries the repair id.
type Sink struct {
	name    string
	url     string
	method  string
	token   string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// Envelope is the request body.
type Envelope struct {
	Kind     effects.Kind    `json:"kind"`
	RepairID string          `json:"repairId"`
	Payload  effects.Payload `json:"payload"`
}

// New creates a sink from cfg.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("webhook sink name is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook sink %s: url is required", cfg.Name)
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	s := &Sink{
		name:    cfg.Name,
		url:     cfg.URL,
		method:  method,
		token:   cfg.Token,
		headers: cfg.Headers,
		client:  client,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

func (s *Sink) Name() string { return s.name }

// Write sends payload. Status 429 and 5xx are transient, other non-2xx
// statuses are permanent. A 2xx body of the form
// {"success":false,"errorDetail":"..."} is reported as a refused write.
func (s *Sink) Write(ctx context.Context, payload effects.Payload) (effects.WriteOutcome, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return effects.WriteOutcome{}, fmt.Errorf("webhook %s rate limit: %w", s.name, err)
		}
	}

	body, err := json.Marshal(Envelope{Kind: payload.Kind(), RepairID: payload.RepairID(), Payload: payload})
	if err != nil {
		return effects.WriteOutcome{}, infra.AsPermanent(fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return effects.WriteOutcome{}, infra.AsPermanent(fmt.Errorf("create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.RepairID())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if id := observability.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return effects.WriteOutcome{}, fmt.Errorf("webhook %s request failed: %w", s.name, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return effects.WriteOutcome{}, infra.AsTransient(statusError(s.name, resp.StatusCode, respBody))
	case resp.StatusCode >= 300:
		return effects.WriteOutcome{}, infra.AsPermanent(statusError(s.name, resp.StatusCode, respBody))
	}

	var outcome effects.WriteOutcome
	if err := json.Unmarshal(respBody, &outcome); err != nil || !hasSuccessField(respBody) {
		return effects.WriteOutcome{Success: true}, nil
	}
	return outcome, nil
}

func hasSuccessField(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields["success"]
	return ok
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func statusError(name string, status int, body []byte) error {
	detail := truncate(strings.TrimSpace(string(body)), 200)
	if detail == "" {
		return fmt.Errorf("webhook %s returned status %d", name, status)
	}
	return fmt.Errorf("webhook %s returned status %d: %s", name, status, detail)
}
