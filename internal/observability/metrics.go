package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus metrics of the confirmation pipeline.
//
// Tracked:
//   - Confirmations by result (written|degraded|invalid)
//   - Sink writes by sink and outcome (written|failed) and their latency
//   - Breaker state per sink and retry attempts
//   - Dead letters by sink and state
//   - Slow operations by operation name and severity
//   - Tool executions and gateway HTTP requests
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordSinkWrite("row", "written", "", time.Since(start).Seconds())
type Metrics struct {
	// Confirmations counts confirm-and-log calls.
	// Labels: result (written|degraded|invalid)
	Confirmations *prometheus.CounterVec

	// SinkWrites counts completed guarded sink writes.
	// Labels: sink, outcome (written|failed), error_kind
	SinkWrites *prometheus.CounterVec

	// SinkWriteDuration measures a guarded write including retries, in seconds.
	// Labels: sink
	// Buckets: 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2s, 5s, 10s, 30s
	SinkWriteDuration *prometheus.HistogramVec

	// RetryAttempts counts retries (attempts after the first).
	// Labels: sink
	RetryAttempts *prometheus.CounterVec

	// BreakerState is 0 for closed, 1 for half-open and 2 for open.
	// Labels: sink
	BreakerState *prometheus.GaugeVec

	// DeadLetters counts dead-letter transitions.
	// Labels: sink, state (pending|delivered|abandoned)
	DeadLetters *prometheus.CounterVec

	// SlowOperations counts operations above the slow thresholds.
	// Labels: operation, severity (slow|very_slow)
	SlowOperations *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// HTTPRequestDuration measures gateway request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer. Tests pass
// prometheus.NewRegistry() to stay isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_confirmations_total",
				Help: "Total number of repair confirmations by result",
			},
			[]string{"result"},
		),

		SinkWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_sink_writes_total",
				Help: "Total number of guarded sink writes by sink, outcome and error kind",
			},
			[]string{"sink", "outcome", "error_kind"},
		),

		SinkWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servicedesk_sink_write_duration_seconds",
				Help:    "Duration of guarded sink writes including retries in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"sink"},
		),

		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_sink_retries_total",
				Help: "Total number of sink write retries",
			},
			[]string{"sink"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "servicedesk_circuit_breaker_state",
				Help: "Circuit breaker state per sink (0=closed, 1=half-open, 2=open)",
			},
			[]string{"sink"},
		),

		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_dead_letters_total",
				Help: "Total number of dead-letter transitions by sink and state",
			},
			[]string{"sink", "state"},
		),

		SlowOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_slow_operations_total",
				Help: "Total number of operations exceeding the slow thresholds",
			},
			[]string{"operation", "severity"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servicedesk_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servicedesk_http_request_duration_seconds",
				Help:    "Duration of gateway HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordConfirmation increments the confirmation counter.
func (m *Metrics) RecordConfirmation(result string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(result).Inc()
}

// RecordSinkWrite records a finished guarded write.
func (m *Metrics) RecordSinkWrite(sink, outcome, errorKind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SinkWrites.WithLabelValues(sink, outcome, errorKind).Inc()
	m.SinkWriteDuration.WithLabelValues(sink).Observe(durationSeconds)
}

// RecordRetry increments the retry counter for a sink.
func (m *Metrics) RecordRetry(sink string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(sink).Inc()
}

// SetBreakerState publishes a breaker state ("closed", "half-open", "open").
func (m *Metrics) SetBreakerState(sink, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(sink).Set(v)
}

// RecordDeadLetter counts a dead-letter state transition.
func (m *Metrics) RecordDeadLetter(sink, state string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(sink, state).Inc()
}

// RecordSlowOperation counts an operation above a slow threshold.
func (m *Metrics) RecordSlowOperation(operation, severity string) {
	if m == nil {
		return
	}
	m.SlowOperations.WithLabelValues(operation, severity).Inc()
}

// RecordToolExecution records a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
}

// RecordHTTPRequest records a gateway HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
