package evaluator

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/food"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/logging"
	"github.com/snow-ghost/fuzzyeval/pkg/metrics"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
	"github.com/snow-ghost/fuzzyeval/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newFoodService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Name == "" {
		opts.Name = food.ModelName
	}
	svc, err := NewService(food.MustBuildModel().System(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestLoadConfig(t *testing.T) {
	config := LoadConfig()
	assert.Equal(t, "8090", config.Port)
	assert.Equal(t, "memory", config.JournalDriver)
	assert.Equal(t, 4096, config.CacheSize)
	assert.False(t, config.IncludeRule13)
	assert.Equal(t, 10*time.Second, config.RequestTimeout)

	t.Setenv("FUZZY_PORT", "9000")
	t.Setenv("CACHE_SIZE", "12")
	t.Setenv("INCLUDE_RULE13", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REQUEST_TIMEOUT", "250ms")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("RATE_LIMIT_MAX_KEYS", "500")

	config = LoadConfig()
	assert.Equal(t, "9000", config.Port)
	assert.Equal(t, 12, config.CacheSize)
	assert.True(t, config.IncludeRule13)
	assert.Equal(t, 2.5, config.RateLimitRPS)
	assert.Equal(t, 250*time.Millisecond, config.RequestTimeout)
	assert.Equal(t, 0, config.RateLimitBurst)
	assert.Equal(t, 500, config.RateLimitKeys)
}

func TestEvaluate(t *testing.T) {
	j := journal.NewMemoryJournal(0)
	svc := newFoodService(t, Options{CacheSize: 16, Journal: j})

	ctx := observability.WithCaller(observability.WithRequestID(context.Background(), "req-1"), "alice")
	eval, err := svc.Evaluate(ctx, food.Inputs(2, 8, 2, 9))
	require.NoError(t, err)

	v, err := eval.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 41.333333347515754, v, 1e-9)
	assert.Equal(t, StatusOK, eval.Status())
	assert.Equal(t, food.ModeratelyUseful, eval.Outputs[food.Usefulness].Band)
	assert.False(t, eval.Cached)

	again, err := svc.Evaluate(ctx, food.Inputs(2, 8, 2, 9))
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, math.Float64bits(v), math.Float64bits(*again.Outputs[food.Usefulness].Value))

	// results handed out are private copies
	*again.Outputs[food.Usefulness].Value = -1
	third, err := svc.Evaluate(ctx, food.Inputs(2, 8, 2, 9))
	require.NoError(t, err)
	assert.InDelta(t, 41.333333347515754, *third.Outputs[food.Usefulness].Value, 1e-9)

	records, err := j.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alice", records[0].Caller)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, food.ModelName, records[0].Model)
	assert.True(t, records[0].Cached)
	assert.False(t, records[2].Cached)
	assert.InDelta(t, 41.333333347515754, records[2].Outputs[food.Usefulness], 1e-9)

	stats, ok := svc.CacheStats()
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Cache.Misses)
}

func TestEvaluateNoRuleFired(t *testing.T) {
	j := journal.NewMemoryJournal(0)
	svc := newFoodService(t, Options{Journal: j})

	eval, err := svc.Evaluate(context.Background(), food.Inputs(0, 0, 100, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusNoRuleFired, eval.Status())
	assert.Nil(t, eval.Outputs[food.Usefulness].Value)
	assert.Empty(t, eval.Outputs[food.Usefulness].Band)

	_, err = eval.Value(food.Usefulness)
	var nrf *core.NoRuleFiredError
	require.ErrorAs(t, err, &nrf)
	assert.Equal(t, food.Usefulness, nrf.Variable)
	assert.ErrorIs(t, err, core.ErrNoRuleFired)

	records, err := j.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.StatusNoRuleFired, records[0].Status)
	assert.Equal(t, []string{food.Usefulness}, records[0].NoRuleFired)
}

func TestEvaluateRejectedInputs(t *testing.T) {
	j := journal.NewMemoryJournal(0)
	obs := observability.NewNopManager()
	svc := newFoodService(t, Options{CacheSize: 16, Journal: j, Observability: obs})

	tests := []struct {
		name   string
		inputs map[string]float64
		kind   error
		status string
	}{
		{
			name:   "missing sweetness",
			inputs: map[string]float64{food.Taste: 1, food.Spiciness: 1, food.Temperature: 1},
			kind:   core.ErrMissingInput,
			status: metrics.StatusMissingInput,
		},
		{
			name:   "NaN taste",
			inputs: food.Inputs(math.NaN(), 1, 1, 1),
			kind:   core.ErrInvalidInput,
			status: metrics.StatusInvalidInput,
		},
		{
			name:   "infinite temperature",
			inputs: food.Inputs(1, 1, math.Inf(1), 1),
			kind:   core.ErrInvalidInput,
			status: metrics.StatusInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := svc.Evaluate(context.Background(), tt.inputs)
			assert.Nil(t, eval)
			assert.ErrorIs(t, err, tt.kind)

			var inputErr *core.InputError
			assert.ErrorAs(t, err, &inputErr)

			count := testutil.ToFloat64(obs.GetMetrics().EvaluationsTotal.WithLabelValues(food.ModelName, tt.status))
			assert.GreaterOrEqual(t, count, 1.0)
		})
	}

	summary, err := j.Summary(context.Background(), journal.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ByStatus[journal.StatusMissingInput])
	assert.Equal(t, int64(2), summary.ByStatus[journal.StatusInvalidInput])

	// rejected inputs are never cached
	assert.Equal(t, 0, svc.cache.Len())
}

func TestEvaluateRecordsRuleActivations(t *testing.T) {
	obs := observability.NewNopManager()
	svc := newFoodService(t, Options{CacheSize: 16, Observability: obs})

	for i := 0; i < 2; i++ {
		_, err := svc.Evaluate(context.Background(), food.Inputs(8, 3, 6, 4))
		require.NoError(t, err)
	}

	activations := obs.GetMetrics().RuleActivations
	// counted once: the second evaluation is served from the cache
	assert.Equal(t, 1.0, testutil.ToFloat64(activations.WithLabelValues(food.ModelName, "rule1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(activations.WithLabelValues(food.ModelName, "rule11")))
	assert.Equal(t, 0.0, testutil.ToFloat64(activations.WithLabelValues(food.ModelName, "rule2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.GetMetrics().EvaluationsTotal.WithLabelValues(food.ModelName, metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.GetMetrics().CacheHitsTotal))
}

func TestEvaluateSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	obs := observability.New(logging.NewNopLogger(), metrics.NewPrometheusMetrics(nil), tracing.NewTracerWithProvider("test", tp))
	svc := newFoodService(t, Options{Observability: obs})

	_, err := svc.Evaluate(context.Background(), food.Inputs(8, 3, 6, 4))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "fuzzy.evaluate", spans[0].Name())

	attrs := map[string]float64{}
	for _, kv := range spans[0].Attributes() {
		if kv.Value.Type() == attribute.FLOAT64 {
			attrs[string(kv.Key)] = kv.Value.AsFloat64()
		}
	}
	assert.Equal(t, 8.0, attrs["fuzzy.input.taste"])
	assert.InDelta(t, 50.0, attrs["fuzzy.output.usefulness"], 1e-9)
}

func TestEvaluateBatch(t *testing.T) {
	svc := newFoodService(t, Options{CacheSize: 64, BatchParallelism: 3})

	items := []map[string]float64{
		food.Inputs(3, 2, 1, 4),
		food.Inputs(7, 5, 4, 8),
		{food.Taste: 1},
		food.Inputs(8, 7, 6, 9),
		food.Inputs(0, 0, 100, 0),
	}
	results, err := svc.EvaluateBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, len(items))

	v, err := results[0].Evaluation.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-9)

	v, err = results[1].Evaluation.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 56.41680961302367, v, 1e-9)

	assert.Nil(t, results[2].Evaluation)
	assert.ErrorIs(t, results[2].Err, core.ErrMissingInput)

	v, err = results[3].Evaluation.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 47.52386143085185, v, 1e-9)

	assert.NoError(t, results[4].Err)
	assert.Equal(t, StatusNoRuleFired, results[4].Evaluation.Status())
}

func TestEvaluateBatchLimits(t *testing.T) {
	svc := newFoodService(t, Options{MaxBatch: 2})

	_, err := svc.EvaluateBatch(context.Background(), make([]map[string]float64, 3))
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.EvaluateBatch(ctx, []map[string]float64{food.Inputs(1, 1, 1, 1)})
	assert.ErrorIs(t, err, context.Canceled)

	results, err := svc.EvaluateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEvaluateEach(t *testing.T) {
	svc := newFoodService(t, Options{MaxBatch: 3})

	var order []int
	var values []float64
	err := svc.EvaluateEach(context.Background(), []map[string]float64{
		food.Inputs(8, 3, 6, 4),
		{food.Taste: 1},
		food.Inputs(2, 8, 2, 9),
	}, func(i int, item BatchItem) error {
		order = append(order, i)
		if item.Err != nil {
			assert.ErrorIs(t, item.Err, core.ErrMissingInput)
			return nil
		}
		v, err := item.Evaluation.Value(food.Usefulness)
		require.NoError(t, err)
		values = append(values, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
	require.Len(t, values, 2)
	assert.InDelta(t, 50.0, values[0], 1e-9)
	assert.InDelta(t, 41.333333347515754, values[1], 1e-9)

	stop := errors.New("stop")
	calls := 0
	err = svc.EvaluateEach(context.Background(), []map[string]float64{
		food.Inputs(1, 1, 1, 1), food.Inputs(2, 2, 2, 2),
	}, func(int, BatchItem) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	err = svc.EvaluateEach(context.Background(), make([]map[string]float64, 4), func(int, BatchItem) error { return nil })
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

type failingJournal struct{ journal.Nop }

func (failingJournal) Record(context.Context, journal.Record) error {
	return errors.New("disk full")
}

func TestJournalFailureDoesNotFailEvaluation(t *testing.T) {
	obs := observability.NewNopManager()
	svc := newFoodService(t, Options{Journal: failingJournal{}, Observability: obs})

	_, err := svc.Evaluate(context.Background(), food.Inputs(8, 3, 6, 4))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.GetMetrics().JournalFailuresTotal))
}

func TestServiceWithoutCache(t *testing.T) {
	svc := newFoodService(t, Options{})

	_, ok := svc.CacheStats()
	assert.False(t, ok)

	for i := 0; i < 2; i++ {
		eval, err := svc.Evaluate(context.Background(), food.Inputs(5, 5, 5, 5))
		require.NoError(t, err)
		assert.False(t, eval.Cached)
	}
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, Options{})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	svc := newFoodService(t, Options{})
	def := svc.Describe()
	assert.Equal(t, food.ModelName, def.Name)
	assert.Len(t, def.Rules, 12)
	assert.Len(t, svc.labels, 12)
}

func TestNewFromConfig(t *testing.T) {
	config := LoadConfig()
	config.JournalDriver = journal.DriverNone

	svc, err := New(config, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, food.ModelName, svc.Name())

	eval, err := svc.Evaluate(context.Background(), food.Inputs(10, 0, 8, 0))
	require.NoError(t, err)
	v, err := eval.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 83.66666487968241, v, 1e-9)
	assert.Equal(t, food.VeryUseful, eval.Outputs[food.Usefulness].Band)
}

func TestNewFromConfigRule13AndMethod(t *testing.T) {
	config := LoadConfig()
	config.IncludeRule13 = true
	config.Defuzzifier = string(core.MeanOfMaximum)

	svc, err := New(config, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.Len(t, svc.System().Rules(), 13)
	assert.Equal(t, core.MeanOfMaximum, svc.System().Defuzzifier())

	eval, err := svc.Evaluate(context.Background(), food.Inputs(10, 0, 8, 0))
	require.NoError(t, err)
	v, err := eval.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v, 1e-9)

	config.Defuzzifier = "median"
	_, err = New(config, nil)
	assert.ErrorIs(t, err, core.ErrInvalidModel)
}

func TestNewFromYAMLModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "food.yaml")
	require.NoError(t, registry.NewLoader(path).SaveDefinition(food.Definition()))

	config := LoadConfig()
	config.ModelConfig = path
	config.JournalDriver = journal.DriverSQLite
	config.JournalPath = filepath.Join(t.TempDir(), "journal.db")

	probe, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "probe.db"))
	if err != nil {
		t.Skipf("sqlite journal unavailable: %v", err)
	}
	probe.Close()

	svc, err := New(config, nil)
	require.NoError(t, err)
	defer svc.Close()

	eval, err := svc.Evaluate(context.Background(), food.Inputs(0, 0, 0, 0))
	require.NoError(t, err)
	v, err := eval.Value(food.Usefulness)
	require.NoError(t, err)
	assert.InDelta(t, 23.092218687687645, v, 1e-9)
	assert.Equal(t, food.NotUseful, eval.Outputs[food.Usefulness].Band)

	records, err := svc.Journal().List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "unknown", records[0].Caller)

	config.ModelConfig = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = New(config, nil)
	assert.Error(t, err)
}
