package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/pkg/cache"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/metrics"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
	"github.com/snow-ghost/fuzzyeval/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
var ErrBatchTooLarge = errors.New("batch too large")

// Per-consequent statuses.
const (
	StatusOK          = "ok"
	StatusNoRuleFired = "no_rule_fired"
)

// Result is the outcome for one consequent.
type Result struct {
	Status string   `json:"status"`
	Value  *float64 `json:"value,omitempty"`
	Band   string   `json:"band,omitempty"`
}

// Evaluation is one served inference.
type Evaluation struct {
	Outputs   map[string]Result `json:"outputs"`
	Strengths []float64         `json:"-"`
	Cached    bool              `json:"cached"`
}

// Value returns the crisp value of the named consequent, or a
// *core.NoRuleFiredError.
func (e *Evaluation) Value(name string) (float64, error) {
	r, ok := e.Outputs[name]
	if !ok {
		return 0, fmt.Errorf("%w: no consequent %q", core.ErrInvalidModel, name)
	}
	if r.Value == nil {
		return 0, &core.NoRuleFiredError{Variable: name}
	}
	return *r.Value, nil
}

// Status is ok when every consequent has a value.
func (e *Evaluation) Status() string {
	for _, r := range e.Outputs {
		if r.Status != StatusOK {
			return StatusNoRuleFired
		}
	}
	return StatusOK
}

func (e *Evaluation) crisp() (values map[string]float64, unfired []string) {
	values = make(map[string]float64, len(e.Outputs))
	for name, r := range e.Outputs {
		if r.Value != nil {
			values[name] = *r.Value
		} else {
			unfired = append(unfired, name)
		}
	}
	sort.Strings(unfired)
	return values, unfired
}

func (e *Evaluation) clone() *Evaluation {
	out := &Evaluation{
		Outputs:   make(map[string]Result, len(e.Outputs)),
		Strengths: append([]float64(nil), e.Strengths...),
		Cached:    e.Cached,
	}
	for name, r := range e.Outputs {
		if r.Value != nil {
			v := *r.Value
			r.Value = &v
		}
		out.Outputs[name] = r
	}
	return out
}

// BatchItem is one result of EvaluateBatch: either an Evaluation or the
// input error that rejected it.
type BatchItem struct {
	Evaluation *Evaluation
	Err        error
}

// Options configures a Service.
type Options struct {
	// Name labels metrics, spans, cache keys and journal records
	Name string

	// CacheSize <= 0 disables memoization
	CacheSize int
	CacheTTL  time.Duration

	Journal       journal.Journal
	Observability *observability.Manager

	MaxBatch         int
	BatchParallelism int
}

// Service serves evaluations of one immutable system. It is safe for
// concurrent use.
type Service struct {
	name        string
	sys         *core.System
	labels      []string
	cache       *cache.CacheManager[*Evaluation]
	journal     journal.Journal
	obs         *observability.Manager
	maxBatch    int
	parallelism int
}

// NewService wraps sys.
func NewService(sys *core.System, opts Options) (*Service, error) {
	if sys == nil {
		return nil, fmt.Errorf("%w: nil system", core.ErrInvalidModel)
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Observability == nil {
		opts.Observability = observability.NewNopManager()
	}
	if opts.BatchParallelism <= 0 {
		opts.BatchParallelism = 8
	}

	s := &Service{
		name:        opts.Name,
		sys:         sys,
		journal:     opts.Journal,
		obs:         opts.Observability,
		maxBatch:    opts.MaxBatch,
		parallelism: opts.BatchParallelism,
	}
	for _, r := range sys.Rules() {
		s.labels = append(s.labels, r.Label)
	}

	if opts.CacheSize > 0 {
		cm, err := cache.NewCacheManager[*Evaluation](&cache.CacheConfig{
			MaxSize:         opts.CacheSize,
			DefaultTTL:      opts.CacheTTL,
			CleanupInterval: time.Minute,
		})
		if err != nil {
			return nil, err
		}
		s.cache = cm
	}

	return s, nil
}

// Name returns the model name.
func (s *Service) Name() string { return s.name }

// System returns the served system.
func (s *Service) System() *core.System { return s.sys }

// MaxBatch returns the batch size limit; zero means unlimited.
func (s *Service) MaxBatch() int { return s.maxBatch }

// Journal returns the evaluation journal.
func (s *Service) Journal() journal.Journal { return s.journal }

// Observability returns the telemetry bundle.
func (s *Service) Observability() *observability.Manager { return s.obs }

// Describe returns the served model as a declarative definition.
func (s *Service) Describe() *registry.Definition {
	return registry.Describe(s.name, s.sys)
}

// CacheStats reports memoization statistics; ok is false without a cache.
func (s *Service) CacheStats() (stats cache.ManagerStats, ok bool) {
	if s.cache == nil {
		return cache.ManagerStats{}, false
	}
	return s.cache.Stats(), true
}

// Evaluate runs one inference. *core.InputError is returned for rejected
// inputs; consequents without a firing rule are reported in the result.
func (s *Service) Evaluate(ctx context.Context, inputs map[string]float64) (*Evaluation, error) {
	start := time.Now()
	ctx, span := s.obs.StartEvaluationSpan(ctx, s.name, inputs)
	defer span.End()

	eval, hit, err := s.evaluate(ctx, inputs)
	duration := time.Since(start)

	if err != nil {
		status := errorStatus(err)
		if status != metrics.StatusError {
			s.obs.LogRejectedInput(ctx, s.name, err)
		}
		s.obs.RecordEvaluationMetrics(s.name, status, duration, nil)
		tracing.RecordSpanError(span, err)
		s.record(ctx, journal.Record{
			Status:     status,
			Inputs:     inputs,
			Error:      err.Error(),
			DurationMS: durationMS(duration),
		})
		return nil, err
	}

	values, unfired := eval.crisp()
	status := eval.Status()
	tracing.RecordSpanOutputs(span, values)
	if len(unfired) > 0 {
		tracing.RecordSpanNoRuleFired(span, unfired)
		for _, name := range unfired {
			s.obs.LogNoRuleFired(ctx, s.name, name, inputs)
		}
	}
	tracing.RecordSpanDuration(span, duration)
	tracing.RecordSpanSuccess(span)

	s.obs.RecordEvaluationMetrics(s.name, status, duration, values)
	if !hit {
		s.obs.RecordRuleActivations(s.name, s.labels, eval.Strengths)
	}
	s.obs.LogEvaluationCompletion(ctx, s.name, inputs, values, duration)

	s.record(ctx, journal.Record{
		Status:      status,
		Inputs:      inputs,
		Outputs:     values,
		NoRuleFired: unfired,
		DurationMS:  durationMS(duration),
		Cached:      hit,
	})

	out := eval.clone()
	out.Cached = hit
	return out, nil
}

func (s *Service) evaluate(ctx context.Context, inputs map[string]float64) (*Evaluation, bool, error) {
	if s.cache == nil {
		eval, err := s.compute(inputs)
		return eval, false, err
	}

	eval, hit, err := s.cache.Evaluate(ctx, s.name, inputs, func() (*Evaluation, error) {
		return s.compute(inputs)
	})
	s.obs.RecordCacheMetrics(ctx, hit)
	return eval, hit, err
}

// compute runs the system and attaches bands to crisp outputs.
func (s *Service) compute(inputs map[string]float64) (*Evaluation, error) {
	sess, err := s.sys.Run(inputs)
	if err != nil {
		return nil, err
	}

	outputs := sess.Outputs()
	eval := &Evaluation{
		Outputs:   make(map[string]Result, len(outputs)),
		Strengths: sess.Strengths(),
	}
	for name, out := range outputs {
		if out.Err != nil {
			eval.Outputs[name] = Result{Status: StatusNoRuleFired}
			continue
		}
		v := out.Value
		r := Result{Status: StatusOK, Value: &v}
		if variable, ok := s.sys.Variable(name); ok {
			r.Band = variable.Classify(v)
		}
		eval.Outputs[name] = r
	}
	return eval, nil
}

// EvaluateBatch evaluates items concurrently, preserving order. Rejected
// inputs are reported per item; the returned error is reserved for an
// oversized batch or a cancelled context.
func (s *Service) EvaluateBatch(ctx context.Context, items []map[string]float64) ([]BatchItem, error) {
	if s.maxBatch > 0 && len(items) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(items), s.maxBatch)
	}

	ctx, span := s.obs.GetTracer().StartBatchSpan(ctx, s.name, len(items))
	defer span.End()

	results := make([]BatchItem, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, inputs := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eval, err := s.Evaluate(gctx, inputs)
			results[i] = BatchItem{Evaluation: eval, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracing.RecordSpanError(span, err)
		return nil, err
	}
	tracing.RecordSpanSuccess(span)
	return results, nil
}

// EvaluateEach evaluates items in order, handing each result to fn as soon
// as it is ready. It stops at the first error from fn or the context.
func (s *Service) EvaluateEach(ctx context.Context, items []map[string]float64, fn func(i int, item BatchItem) error) error {
	if s.maxBatch > 0 && len(items) > s.maxBatch {
		return fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(items), s.maxBatch)
	}

	for i, inputs := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		eval, err := s.Evaluate(ctx, inputs)
		if err := fn(i, BatchItem{Evaluation: eval, Err: err}); err != nil {
			return err
		}
	}
	return nil
}

// record journals one evaluation; failures are counted and logged but never
// fail the evaluation.
func (s *Service) record(ctx context.Context, rec journal.Record) {
	rec.Timestamp = time.Now()
	rec.Model = s.name
	rec.Caller = observability.GetCallerFromContext(ctx)
	rec.RequestID = observability.GetRequestIDFromContext(ctx)

	if err := s.journal.Record(ctx, rec); err != nil {
		s.obs.GetMetrics().RecordJournalFailure()
		s.obs.GetLogger().WithRequestID(ctx, rec.RequestID).Warn("Journal write failed", "error", err.Error())
	}
}

// Close releases the cache and the journal.
func (s *Service) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.journal.Close()
}

// errorStatus maps an evaluation error to its metrics and journal status.
func errorStatus(err error) string {
	switch {
	case errors.Is(err, core.ErrMissingInput):
		return metrics.StatusMissingInput
	case errors.Is(err, core.ErrInvalidInput):
		return metrics.StatusInvalidInput
	default:
		return metrics.StatusError
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
