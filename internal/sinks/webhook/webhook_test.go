package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/servicedesk/internal/effects"
	"github.com/haasonsaas/servicedesk/internal/infra"
	"github.com/haasonsaas/servicedesk/internal/observability"
)

var testRow = effects.Row{CustomerID: "CUST009", Repair: "REP_SCHEDULED_CUST009", Machine: "VM-230J"}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{URL: "http://x"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := New(Config{Name: "row"}); err == nil {
		t.Error("expected error for missing url")
	}
}

func TestSink_Write(t *testing.T) {
	var got struct {
		Kind     string          `json:"kind"`
		RepairID string          `json:"repairId"`
		Payload  json.RawMessage `json:"payload"`
	}
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := New(Config{Name: "row", URL: server.URL, Token: "secret-token", Headers: map[string]string{"X-Sheet": "repairs"}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := observability.AddRequestID(context.Background(), "req-1")
	outcome, err := sink.Write(ctx, testRow)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v", outcome)
	}

	if got.Kind != "row" || got.RepairID != "REP_SCHEDULED_CUST009" {
		t.Errorf("envelope = %+v", got)
	}
	var row effects.Row
	if err := json.Unmarshal(got.Payload, &row); err != nil || row != testRow {
		t.Errorf("payload = %s (%v)", got.Payload, err)
	}
	tests := map[string]string{
		"Authorization":   "Bearer secret-token",
		"Idempotency-Key": "REP_SCHEDULED_CUST009",
		"X-Request-Id":    "req-1",
		"X-Sheet":         "repairs",
		"Content-Type":    "application/json",
	}
	for k, want := range tests {
		if headers.Get(k) != want {
			t.Errorf("header %s = %q, want %q", k, headers.Get(k), want)
		}
	}
}

func TestSink_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantSuccess   bool
		wantDetail    string
		wantTransient bool
		wantPermanent bool
	}{
		{name: "ok empty body", status: 200, wantSuccess: true},
		{name: "created with plain text", status: 201, body: "stored", wantSuccess: true},
		{name: "explicit success", status: 200, body: `{"success":true}`, wantSuccess: true},
		{name: "refused write", status: 200, body: `{"success":false,"errorDetail":"sheet locked"}`, wantDetail: "sheet locked"},
		{name: "rate limited", status: 429, wantTransient: true},
		{name: "bad gateway", status: 502, body: "upstream down", wantTransient: true},
		{name: "bad request", status: 400, body: "missing column", wantPermanent: true},
		{name: "unauthorized", status: 401, wantPermanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			sink, _ := New(Config{Name: "calendar", URL: server.URL})
			outcome, err := sink.Write(context.Background(), effects.CalendarEvent{Repair: "REP_SCHEDULED_CUST009"})

			if tt.wantTransient || tt.wantPermanent {
				if err == nil {
					t.Fatal("expected error")
				}
				if infra.IsTransient(err) != tt.wantTransient {
					t.Errorf("IsTransient(%v) = %v", err, infra.IsTransient(err))
				}
				if infra.IsPermanent(err) != tt.wantPermanent {
					t.Errorf("IsPermanent(%v) = %v", err, infra.IsPermanent(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if outcome.Success != tt.wantSuccess || outcome.ErrorDetail != tt.wantDetail {
				t.Errorf("outcome = %+v", outcome)
			}
		})
	}
}

func TestSink_ErrorDetailKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("シート書き込み失敗", 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	sink, _ := New(Config{Name: "calendar", URL: server.URL})
	_, err := sink.Write(context.Background(), effects.CalendarEvent{Repair: "REP_SCHEDULED_CUST009"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Errorf("error message is not valid UTF-8: %q", msg)
	}
	_, detail, _ := strings.Cut(msg, "status 400: ")
	if len(detail) > 200 || !strings.HasPrefix(body, detail) || len(detail) < 197 {
		t.Errorf("detail = %d bytes, want the longest whole-rune prefix under 200", len(detail))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"日本語", 2, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSink_ConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink, _ := New(Config{Name: "row", URL: url})
	_, err := sink.Write(context.Background(), testRow)
	if err == nil || !infra.IsTransient(err) {
		t.Errorf("Write() error = %v, want transient", err)
	}
}

func TestSink_RateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	sink, _ := New(Config{Name: "row", URL: server.URL, RateLimit: 1, Burst: 1})
	if _, err := sink.Write(context.Background(), testRow); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sink.Write(ctx, testRow)
	if err == nil {
		t.Fatal("expected the limiter to reject a write it cannot admit before the deadline")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSink_WithGuard(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, _ := New(Config{Name: "row", URL: server.URL})
	cfg := effects.DefaultGuardConfig()
	cfg.Retry.Backoff.BaseDelay = time.Millisecond
	cfg.Retry.Backoff.MaxDelay = time.Millisecond
	guard := effects.NewGuard(sink, effects.NewSinkBreaker("row", 3, time.Minute, nil, nil), cfg, nil, nil)

	res := guard.Write(context.Background(), testRow)
	if res.Err != nil {
		t.Fatalf("Write() error = %v", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	if errors.Is(res.Err, infra.ErrCircuitOpen) {
		t.Error("breaker should stay closed")
	}
}
