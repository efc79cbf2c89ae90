package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/snow-ghost/fuzzyeval/pkg/logging"
	"github.com/snow-ghost/fuzzyeval/pkg/metrics"
	"github.com/snow-ghost/fuzzyeval/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetRequestIDFromContext(ctx))
	assert.Equal(t, "unknown", GetCallerFromContext(ctx))

	ctx = WithRequestID(WithCaller(ctx, "alice"), "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))
	assert.Equal(t, "alice", GetCallerFromContext(ctx))

	// plain string keys from other packages must not collide
	ctx = context.WithValue(context.Background(), "request_id", "foreign")
	assert.Equal(t, "", GetRequestIDFromContext(ctx))
}

func TestStartEvaluationSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := New(logging.NewNopLogger(), metrics.NewPrometheusMetrics(nil), tracing.NewTracerWithProvider("test", tp))

	ctx := WithRequestID(WithCaller(context.Background(), "bob"), "req-7")
	_, span := m.StartEvaluationSpan(ctx, "food-usefulness", map[string]float64{"taste": 8})
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "req-7", attrs["request_id"])
	assert.Equal(t, "bob", attrs["caller"])
	assert.Equal(t, "food-usefulness", attrs["fuzzy.model"])
	assert.Equal(t, "8", attrs["fuzzy.input.taste"])
}

func TestRecordMetrics(t *testing.T) {
	m := NewNopManager()
	pm := m.GetMetrics()

	m.RecordEvaluationMetrics("food-usefulness", metrics.StatusOK, 2*time.Millisecond, map[string]float64{"usefulness": 50})
	m.RecordRuleActivations("food-usefulness", []string{"rule1", "rule2", "rule3"}, []float64{1, 0, 0.5})
	m.RecordCacheMetrics(context.Background(), true)
	m.RecordCacheMetrics(context.Background(), false)
	m.RecordRetry(context.Background(), "http://eval", "HTTP 503", 1)
	m.RecordCircuitBreakerChange("http://eval", "closed", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.EvaluationsTotal.WithLabelValues("food-usefulness", metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RuleActivations.WithLabelValues("food-usefulness", "rule1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RuleActivations.WithLabelValues("food-usefulness", "rule2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RuleActivations.WithLabelValues("food-usefulness", "rule3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RetriesTotal.WithLabelValues("http://eval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CircuitChangesTotal.WithLabelValues("http://eval", "open")))

	require.NoError(t, m.Shutdown(context.Background()))
}
