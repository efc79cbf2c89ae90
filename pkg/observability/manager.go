package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snow-ghost/fuzzyeval/pkg/logging"
	"github.com/snow-ghost/fuzzyeval/pkg/metrics"
	"github.com/snow-ghost/fuzzyeval/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Manager manages all observability components
type Manager struct {
	metrics *metrics.PrometheusMetrics
	tracer  *tracing.Tracer
	logger  *logging.Logger
}

// Config holds observability configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	JaegerEndpoint string
	LogLevel       string
	LogFormat      string
	LogOutput      string

	// Registry receives the collectors; nil creates a fresh one
	Registry *prometheus.Registry
}

// NewManager creates a new observability manager
func NewManager(config Config) (*Manager, error) {
	// Create metrics
	prometheusMetrics := metrics.NewPrometheusMetrics(config.Registry)

	// Create tracer
	tracerConfig := tracing.Config{
		ServiceName:    config.ServiceName,
		ServiceVersion: config.ServiceVersion,
		JaegerEndpoint: config.JaegerEndpoint,
		Environment:    config.Environment,
	}

	tracer, err := tracing.NewTracer(tracerConfig)
	if err != nil {
		return nil, err
	}

	// Create logger
	output := config.LogOutput
	if output == "" {
		output = "stdout"
	}
	loggerConfig := logging.Config{
		Level:     config.LogLevel,
		Format:    config.LogFormat,
		Output:    output,
		AddCaller: true,
		AddStack:  false,
	}

	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, err
	}

	return &Manager{
		metrics: prometheusMetrics,
		tracer:  tracer,
		logger:  logger,
	}, nil
}

// New assembles a manager from existing components
func New(logger *logging.Logger, m *metrics.PrometheusMetrics, tracer *tracing.Tracer) *Manager {
	return &Manager{metrics: m, tracer: tracer, logger: logger}
}

// NewNopManager returns a manager that discards logs, keeps spans in
// process and registers metrics on a private registry
func NewNopManager() *Manager {
	return &Manager{
		metrics: metrics.NewPrometheusMetrics(prometheus.NewRegistry()),
		tracer:  tracing.NewTracerWithProvider("fuzzyeval", sdktrace.NewTracerProvider()),
		logger:  logging.NewNopLogger(),
	}
}

// GetMetrics returns the metrics instance
func (m *Manager) GetMetrics() *metrics.PrometheusMetrics {
	return m.metrics
}

// GetTracer returns the tracer instance
func (m *Manager) GetTracer() *tracing.Tracer {
	return m.tracer
}

// GetLogger returns the logger instance
func (m *Manager) GetLogger() *logging.Logger {
	return m.logger
}

// StartEvaluationSpan starts a span for one evaluation tagged with the
// request and caller
func (m *Manager) StartEvaluationSpan(ctx context.Context, model string, inputs map[string]float64) (context.Context, trace.Span) {
	ctx, span := m.tracer.StartEvaluationSpan(ctx, model, inputs)

	span.SetAttributes(
		attribute.String("request_id", GetRequestIDFromContext(ctx)),
		attribute.String("caller", GetCallerFromContext(ctx)),
	)

	return ctx, span
}

// RecordEvaluationMetrics records the outcome of one evaluation
func (m *Manager) RecordEvaluationMetrics(model, status string, duration time.Duration, outputs map[string]float64) {
	m.metrics.RecordEvaluation(model, status, duration)
	for variable, value := range outputs {
		m.metrics.RecordOutput(model, variable, value)
	}
}

// RecordRuleActivations counts every rule that fired with a positive strength
func (m *Manager) RecordRuleActivations(model string, labels []string, strengths []float64) {
	for i, strength := range strengths {
		if strength > 0 && i < len(labels) {
			m.metrics.RecordRuleActivation(model, labels[i])
		}
	}
}

// RecordCacheMetrics records cache metrics
func (m *Manager) RecordCacheMetrics(ctx context.Context, hit bool) {
	if hit {
		m.metrics.RecordCacheHit()
	} else {
		m.metrics.RecordCacheMiss()
	}
	m.logger.LogCacheOperation(ctx, "evaluate", hit, GetRequestIDFromContext(ctx))
}

// RecordRetry records and logs one retry against a remote endpoint
func (m *Manager) RecordRetry(ctx context.Context, endpoint, reason string, attempt int) {
	m.metrics.RecordRetry(endpoint)
	m.logger.LogRetry(ctx, endpoint, reason, attempt, GetRequestIDFromContext(ctx))
}

// RecordCircuitBreakerChange records and logs a breaker transition
func (m *Manager) RecordCircuitBreakerChange(name, from, to string) {
	m.metrics.RecordCircuitChange(name, to)
	m.logger.LogCircuitBreaker(context.Background(), name, from, to)
}

// LogEvaluationCompletion logs a finished evaluation
func (m *Manager) LogEvaluationCompletion(ctx context.Context, model string, inputs, outputs map[string]float64, duration time.Duration) {
	m.logger.LogEvaluation(ctx, model, inputs, outputs, duration, GetRequestIDFromContext(ctx))
}

// LogNoRuleFired logs a consequent left without a value
func (m *Manager) LogNoRuleFired(ctx context.Context, model, variable string, inputs map[string]float64) {
	m.logger.LogNoRuleFired(ctx, model, variable, inputs, GetRequestIDFromContext(ctx))
}

// LogRejectedInput logs an evaluation refused because of its inputs
func (m *Manager) LogRejectedInput(ctx context.Context, model string, err error) {
	m.logger.LogRejectedInput(ctx, model, err, GetRequestIDFromContext(ctx))
}

// Shutdown shuts down all observability components
func (m *Manager) Shutdown(ctx context.Context) error {
	// Shutdown tracer
	if err := m.tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Sync logger; stdout/stderr report EINVAL on some platforms
	_ = m.logger.Sync()

	return nil
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerKey    contextKey = "caller"
)

// GetRequestIDFromContext extracts request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithCaller adds caller to context
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCallerFromContext extracts caller from context
func GetCallerFromContext(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey).(string); ok {
		return caller
	}
	return "unknown"
}
