package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation statuses used as label values.
const (
	StatusOK           = "ok"
	StatusNoRuleFired  = "no_rule_fired"
	StatusInvalidInput = "invalid_input"
	StatusMissingInput = "missing_input"
	StatusError        = "error"
)

// PrometheusMetrics holds all Prometheus metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Evaluation metrics
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationLatency  *prometheus.HistogramVec
	RuleActivations    *prometheus.CounterVec
	OutputDistribution *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPLatency       *prometheus.HistogramVec
	RateLimitedTotal  prometheus.Counter

	// Client metrics
	RetriesTotal         *prometheus.CounterVec
	CircuitChangesTotal  *prometheus.CounterVec
	JournalFailuresTotal prometheus.Counter
}

// NewPrometheusMetrics registers all collectors on registry. A nil registry
// gets a fresh one carrying the Go and process collectors.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		registry: registry,

		EvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuzzy_evaluations_total",
				Help: "Total number of inference evaluations",
			},
			[]string{"model", "status"},
		),

		EvaluationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuzzy_evaluation_duration_seconds",
				Help:    "Inference evaluation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"model"},
		),

		RuleActivations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuzzy_rule_activations_total",
				Help: "Number of evaluations in which a rule fired with non-zero strength",
			},
			[]string{"model", "rule"},
		),

		OutputDistribution: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuzzy_output_value",
				Help:    "Distribution of crisp output values",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"model", "variable"},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fuzzy_cache_hits_total",
				Help: "Total number of evaluation cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fuzzy_cache_misses_total",
				Help: "Total number of evaluation cache misses",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuzzy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "code"},
		),

		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuzzy_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fuzzy_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuzzy_client_retries_total",
				Help: "Total number of client retries",
			},
			[]string{"endpoint"},
		),

		CircuitChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuzzy_circuit_state_changes_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "state"},
		),

		JournalFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fuzzy_journal_failures_total",
				Help: "Total number of evaluation records that could not be journaled",
			},
		),
	}
}

// Registry returns the registry the collectors live on
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvaluation records an evaluation outcome and its latency
func (m *PrometheusMetrics) RecordEvaluation(model, status string, duration time.Duration) {
	m.EvaluationsTotal.WithLabelValues(model, status).Inc()
	m.EvaluationLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordRuleActivation records that a rule fired
func (m *PrometheusMetrics) RecordRuleActivation(model, rule string) {
	m.RuleActivations.WithLabelValues(model, rule).Inc()
}

// RecordOutput records a crisp output value
func (m *PrometheusMetrics) RecordOutput(model, variable string, value float64) {
	m.OutputDistribution.WithLabelValues(model, variable).Observe(value)
}

// RecordCacheHit records a cache hit
func (m *PrometheusMetrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *PrometheusMetrics) RecordCacheMiss() {
	m.CacheMissesTotal.Inc()
}

// RecordHTTPRequest records a served HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(path, code string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(path, code).Inc()
	m.HTTPLatency.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordRateLimited records a request rejected by the limiter
func (m *PrometheusMetrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RecordRetry records a client retry
func (m *PrometheusMetrics) RecordRetry(endpoint string) {
	m.RetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordCircuitChange records a circuit breaker transition into state
func (m *PrometheusMetrics) RecordCircuitChange(breaker, state string) {
	m.CircuitChangesTotal.WithLabelValues(breaker, state).Inc()
}

// RecordJournalFailure records a lost journal write
func (m *PrometheusMetrics) RecordJournalFailure() {
	m.JournalFailuresTotal.Inc()
}
