// Package observability holds the Prometheus metrics for the gateway.
package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the query gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Pipeline metrics
	pipelineRunsTotal   *prometheus.CounterVec
	pipelineDuration    *prometheus.HistogramVec
	pipelineRetriesUsed prometheus.Histogram

	// Validator metrics
	validatorRejections *prometheus.CounterVec

	// Query execution metrics
	dbQueriesTotal  *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// LLM metrics
	llmCallsTotal   *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance with its own registry so that tests
// can build fresh instances without duplicate-registration panics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "finsight_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		pipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_pipeline_runs_total",
				Help: "Total number of query pipeline runs",
			},
			[]string{"path", "outcome"},
		),
		pipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_pipeline_duration_seconds",
				Help:    "End-to-end pipeline latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"path"},
		),
		pipelineRetriesUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finsight_pipeline_retries_used",
				Help:    "Number of retries consumed per pipeline run",
				Buckets: []float64{0, 1, 2},
			},
		),

		validatorRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_validator_rejections_total",
				Help: "Total number of SQL validator rejections",
			},
			[]string{"reason"},
		),

		dbQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_db_queries_total",
				Help: "Total number of executed database queries",
			},
			[]string{"outcome"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_db_query_duration_seconds",
				Help:    "Database query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30},
			},
			[]string{"outcome"},
		),

		llmCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_llm_calls_total",
				Help: "Total number of LLM agent invocations",
			},
			[]string{"agent", "outcome"},
		),
		llmCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_llm_call_duration_seconds",
				Help:    "LLM call latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
	}

	return m
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics.
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := c.Path()
		method := c.Method()

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordPipelineRun records a completed pipeline run. Path is "agent" or
// "raw", outcome is "success", "refused" or "error".
func (m *Metrics) RecordPipelineRun(path, outcome string, retries int, duration time.Duration) {
	m.pipelineRunsTotal.WithLabelValues(path, outcome).Inc()
	m.pipelineDuration.WithLabelValues(path).Observe(duration.Seconds())
	m.pipelineRetriesUsed.Observe(float64(retries))
}

// RecordRejection records a validator rejection by reason.
func (m *Metrics) RecordRejection(reason string) {
	m.validatorRejections.WithLabelValues(reason).Inc()
}

// RecordQuery records a database query execution outcome.
func (m *Metrics) RecordQuery(outcome string, duration time.Duration) {
	m.dbQueriesTotal.WithLabelValues(outcome).Inc()
	m.dbQueryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLLMCall records an LLM agent invocation.
func (m *Metrics) RecordLLMCall(agent, outcome string, duration time.Duration) {
	m.llmCallsTotal.WithLabelValues(agent, outcome).Inc()
	m.llmCallDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// Handler returns a Fiber handler that exposes the metrics registry.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
