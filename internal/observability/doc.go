// Package observability provides logging, metrics, tracing and operation
// timing for the servicedesk confirmation pipeline.
//
// # Logging
//
// Logger wraps log/slog. Request, session, customer and repair ids stored on
// the context with AddRequestID, AddSessionID, AddCustomerID and AddRepairID
// are attached to every record. Secrets (tokens, passwords, credentials in
// DSNs) are redacted from messages and values.
//
// # Metrics
//
// Metrics registers Prometheus collectors with a caller supplied
// prometheus.Registerer:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordSinkWrite("calendar", "failed", "timeout", 5.2)
//
// # Tracing
//
// Tracer is an OpenTelemetry tracer exporting over OTLP/gRPC. Without an
// endpoint it is a no-op.
//
// # Performance tracking
//
// PerfTracker keeps the most recent operation timings in a ring buffer, logs
// slow and very slow operations and summarizes a trailing window:
//
//	h := tracker.Start("sink.row")
//	err := write()
//	tracker.End(h, err == nil, infra.Classify(err))
//	summary := tracker.Summary(5 * time.Minute)
package observability
