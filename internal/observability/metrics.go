package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Operation executions by name, transport, and status
//   - Streamed chunk counts per operation
//   - Model (LLM) request performance
//   - Tool call patterns and latencies in the orchestrator
//   - Error rates categorized by component and error code
//   - Active conversation counts
type Metrics struct {
	// OperationCounter counts operation executions.
	// Labels: operation, transport (unary|ndjson|sse|websocket), status (success|error)
	OperationCounter *prometheus.CounterVec

	// OperationDuration measures operation execution latency in seconds.
	// Labels: operation, transport
	OperationDuration *prometheus.HistogramVec

	// StreamChunkCounter counts stream chunks emitted per operation.
	// Labels: operation, transport
	StreamChunkCounter *prometheus.CounterVec

	// LLMRequestDuration measures model API call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolCallCounter counts tool calls issued by the orchestrator.
	// Labels: tool_name, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool call round-trip time in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error code.
	// Labels: component (operations|orchestrator|model|toolclient), code
	ErrorCounter *prometheus.CounterVec

	// ActiveConversations is a gauge of conversations currently held in memory.
	ActiveConversations prometheus.Gauge

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with reg. Call once per
// process; pass prometheus.DefaultRegisterer in production and a fresh
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_operations_total",
				Help: "Total number of operation executions by operation, transport, and status",
			},
			[]string{"operation", "transport", "status"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsrelay_operation_duration_seconds",
				Help:    "Duration of operation executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 300},
			},
			[]string{"operation", "transport"},
		),

		StreamChunkCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_stream_chunks_total",
				Help: "Total number of stream chunks emitted",
			},
			[]string{"operation", "transport"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsrelay_llm_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_llm_requests_total",
				Help: "Total number of model requests by model and status",
			},
			[]string{"model", "status"},
		),

		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_tool_calls_total",
				Help: "Total number of orchestrator tool calls by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsrelay_tool_call_duration_seconds",
				Help:    "Duration of orchestrator tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_errors_total",
				Help: "Total number of errors by component and error code",
			},
			[]string{"component", "code"},
		),

		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsrelay_active_conversations",
				Help: "Current number of conversations held in memory",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsrelay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordOperation records one operation execution.
func (m *Metrics) RecordOperation(operation, transport, status string, durationSeconds float64) {
	m.OperationCounter.WithLabelValues(operation, transport, status).Inc()
	m.OperationDuration.WithLabelValues(operation, transport).Observe(durationSeconds)
}

// RecordStreamChunk counts a single emitted stream chunk.
func (m *Metrics) RecordStreamChunk(operation, transport string) {
	m.StreamChunkCounter.WithLabelValues(operation, transport).Inc()
}

// RecordLLMRequest records metrics for one model API request.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordToolCall records metrics for one orchestrator tool call.
func (m *Metrics) RecordToolCall(toolName, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error code.
func (m *Metrics) RecordError(component, code string) {
	m.ErrorCounter.WithLabelValues(component, code).Inc()
}

// RecordHTTPRequest records metrics for one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
