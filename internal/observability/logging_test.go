package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level string) *Logger {
	return NewLogger(LogConfig{Level: level, Format: "json", Output: buf})
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("failed to decode log record %q: %v", buf.String(), err)
	}
	return record
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil || logger.logger == nil {
				t.Fatal("NewLogger() returned an unusable logger")
			}
		})
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "warn")

	logger.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered, got %s", buf.String())
	}

	logger.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %s", buf.String())
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddSessionID(ctx, "sess-1")
	ctx = AddCustomerID(ctx, "CUST009")
	ctx = AddRepairID(ctx, "REP_SCHEDULED_CUST009")
	ctx = AddSubject(ctx, "voice-agent")

	logger.Info(ctx, "sink write failed", "sink", "row")
	record := decodeRecord(t, &buf)

	want := map[string]string{
		"request_id":  "req-1",
		"session_id":  "sess-1",
		"customer_id": "CUST009",
		"repair_id":   "REP_SCHEDULED_CUST009",
		"subject":     "voice-agent",
		"sink":        "row",
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("%s = %v, want %q", k, record[k], v)
		}
	}
}

func TestLoggerRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	logger.Error(context.Background(), "webhook rejected",
		"error", errors.New("401: bearer abcdefghijklmnopqrstuvwxyz"),
		"headers", map[string]string{"Authorization": "Bearer secret-value", "Accept": "application/json"},
		"dsn", "postgres://svc:hunter22@db:5432/sessions",
	)

	out := buf.String()
	for _, secret := range []string{"abcdefghijklmnopqrstuvwxyz", "secret-value", "hunter22"} {
		if strings.Contains(out, secret) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, "application/json") {
		t.Errorf("non-sensitive header was redacted: %s", out)
	}
}

func TestLoggerSlogKeepsContextAndMasking(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info")

	ctx := AddRequestID(context.Background(), "req-7")
	logger.Slog().InfoContext(ctx, "shutdown step failed", "token", "abc123", "error", errors.New("dial amqp://guest:guest@mq:5672/"))
	record := decodeRecord(t, &buf)

	if record["request_id"] != "req-7" {
		t.Errorf("request_id = %v", record["request_id"])
	}
	if record["token"] != "[REDACTED]" {
		t.Errorf("token = %v", record["token"])
	}
	if strings.Contains(buf.String(), "guest:guest") {
		t.Errorf("amqp credentials leaked: %s", buf.String())
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, "info").WithFields("component", "effects")

	logger.Info(context.Background(), "ready")
	record := decodeRecord(t, &buf)
	if record["component"] != "effects" {
		t.Errorf("component = %v, want effects", record["component"])
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info(context.Background(), "nothing happens")
}

func TestContextGetters(t *testing.T) {
	ctx := AddCustomerID(AddSessionID(AddRequestID(context.Background(), "r"), "s"), "c")
	if GetRequestID(ctx) != "r" || GetSessionID(ctx) != "s" || GetCustomerID(ctx) != "c" {
		t.Error("context getters returned unexpected values")
	}
	if GetSubject(AddSubject(ctx, "ops")) != "ops" {
		t.Error("subject getter returned unexpected value")
	}
	if GetRequestID(context.Background()) != "" {
		t.Error("expected empty request id")
	}
}
