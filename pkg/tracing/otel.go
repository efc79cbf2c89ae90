package tracing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracer
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string // empty keeps spans in-process
	Environment    string
}

// NewTracer creates a new OpenTelemetry tracer and installs it globally
func NewTracer(config Config) (*Tracer, error) {
	// Create resource
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if config.JaegerEndpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewTracerWithProvider(config.ServiceName, tp), nil
}

// NewTracerWithProvider wraps an existing provider without touching globals
func NewTracerWithProvider(name string, tp *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:   tp.Tracer(name),
		provider: tp,
	}
}

// StartSpan starts a new span
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartEvaluationSpan starts a span for one inference
func (t *Tracer) StartEvaluationSpan(ctx context.Context, model string, inputs map[string]float64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("fuzzy.model", model),
	}
	attrs = append(attrs, valueAttributes("fuzzy.input.", inputs)...)

	return t.tracer.Start(ctx, "fuzzy.evaluate", trace.WithAttributes(attrs...))
}

// StartBatchSpan starts a span covering a batch of evaluations
func (t *Tracer) StartBatchSpan(ctx context.Context, model string, size int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("fuzzy.model", model),
		attribute.Int("fuzzy.batch.size", size),
	}

	return t.tracer.Start(ctx, "fuzzy.evaluate_batch", trace.WithAttributes(attrs...))
}

// StartCacheSpan starts a span for cache operations
func (t *Tracer) StartCacheSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.operation", operation),
	}

	return t.tracer.Start(ctx, "cache.operation", trace.WithAttributes(attrs...))
}

// valueAttributes renders a name->value map in sorted key order
func valueAttributes(prefix string, values map[string]float64) []attribute.KeyValue {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.Float64(prefix+k, values[k]))
	}
	return attrs
}

// RecordSpanOutputs records crisp outputs on a span
func RecordSpanOutputs(span trace.Span, outputs map[string]float64) {
	span.SetAttributes(valueAttributes("fuzzy.output.", outputs)...)
}

// RecordSpanNoRuleFired marks consequents that had no crisp value
func RecordSpanNoRuleFired(span trace.Span, variables []string) {
	span.SetAttributes(attribute.StringSlice("fuzzy.no_rule_fired", variables))
}

// RecordSpanError records an error in a span
func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSpanSuccess records success in a span
func RecordSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// RecordSpanDuration records duration in a span
func RecordSpanDuration(span trace.Span, duration time.Duration) {
	span.SetAttributes(attribute.Float64("duration_ms", float64(duration.Nanoseconds())/1e6))
}

// Shutdown flushes and stops the provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// GetTraceID extracts trace ID from context
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID extracts span ID from context
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
