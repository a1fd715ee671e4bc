package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger is a structured logger that stamps every record with the
// correlation ids found on the context and masks credentials.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	logger.Info(ctx, "sink write failed", "sink", "row", "attempts", 4)
type Logger struct {
	logger *slog.Logger
}

// LogConfig configures a Logger.
type LogConfig struct {
	Level     string    // debug, info, warn or error; default info
	Format    string    // json or text; default json
	Output    io.Writer // default os.Stdout
	AddSource bool
}

type ctxField string

const (
	requestIDField  ctxField = "request_id"
	sessionIDField  ctxField = "session_id"
	customerIDField ctxField = "customer_id"
	repairIDField   ctxField = "repair_id"
	subjectField    ctxField = "subject"
)

var ctxFields = [...]ctxField{requestIDField, sessionIDField, customerIDField, repairIDField, subjectField}

const redacted = "[REDACTED]"

// secretPattern matches bearer tokens, JWTs and passwords in DSN or AMQP URLs.
var secretPattern = regexp.MustCompile(
	`(?i)bearer\s+[\w\-.]{16,}` +
		`|eyJ[\w-]*\.eyJ[\w-]*\.[\w-]*` +
		`|(?:postgres(?:ql)?|amqps?)://[^:/\s]+:[^@\s]+@`,
)

var secretKeys = map[string]bool{
	"authorization": true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"dsn":           true,
}

// NewLogger creates a logger from config.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       LogLevelFromString(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: maskAttr,
	}

	var base slog.Handler
	if strings.EqualFold(config.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}
	return &Logger{logger: slog.New(contextHandler{base})}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// WithFields returns a logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// Slog exposes the underlying slog logger for libraries that take one. It
// keeps the context fields and masking.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// contextHandler copies correlation ids from the context onto each record and
// masks the message.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, maskString(r.Message), r.PC)
	for _, f := range ctxFields {
		if v, ok := ctx.Value(f).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(f), v))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return h.Handler.Handle(ctx, out)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[normalizeKey(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, maskString(a.Value.String()))
	}
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	switch v := a.Value.Any().(type) {
	case error:
		return slog.String(a.Key, maskString(v.Error()))
	case []byte:
		return slog.String(a.Key, maskString(string(v)))
	case json.RawMessage:
		return slog.String(a.Key, maskString(string(v)))
	case map[string]string:
		m := make(map[string]string, len(v))
		for k, val := range v {
			if secretKeys[normalizeKey(k)] {
				val = redacted
			}
			m[k] = maskString(val)
		}
		return slog.Any(a.Key, m)
	}
	return a
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "-", "_"))
}

func maskString(s string) string {
	return secretPattern.ReplaceAllString(s, redacted)
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDField, id)
}

// AddSessionID adds a conversation session ID to the context.
func AddSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDField, id)
}

// AddCustomerID adds the identified customer to the context.
func AddCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, customerIDField, id)
}

// AddRepairID adds the derived repair identifier to the context.
func AddRepairID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, repairIDField, id)
}

// AddSubject adds the authenticated caller to the context.
func AddSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectField, subject)
}

func GetRequestID(ctx context.Context) string  { return ctxString(ctx, requestIDField) }
func GetSessionID(ctx context.Context) string  { return ctxString(ctx, sessionIDField) }
func GetCustomerID(ctx context.Context) string { return ctxString(ctx, customerIDField) }
func GetSubject(ctx context.Context) string    { return ctxString(ctx, subjectField) }

func ctxString(ctx context.Context, f ctxField) string {
	v, _ := ctx.Value(f).(string)
	return v
}

// LogLevelFromString parses a level name, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
