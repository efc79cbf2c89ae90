package testkit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/snow-ghost/fuzzyeval/core"
	"gopkg.in/yaml.v3"
)

// DefaultTolerance is the absolute tolerance for expected crisp values.
const DefaultTolerance = 1e-9

// Expected error kinds of a Case.
const (
	ErrorMissingInput = "missing_input"
	ErrorInvalidInput = "invalid_input"
)

// Case is one regression scenario: an input vector and what evaluating it
// must produce.
type Case struct {
	Name   string             `yaml:"name"`
	Inputs map[string]float64 `yaml:"inputs"`

	// Want maps consequents to their expected crisp values
	Want map[string]float64 `yaml:"want,omitempty"`

	// NoRuleFired lists consequents expected to have no value
	NoRuleFired []string `yaml:"no_rule_fired,omitempty"`

	// Error is the expected rejection: missing_input or invalid_input
	Error string `yaml:"error,omitempty"`

	// Tolerance <= 0 means DefaultTolerance
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// Evaluator runs one inference.
type Evaluator interface {
	Evaluate(ctx context.Context, inputs map[string]float64) (core.Outputs, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, inputs map[string]float64) (core.Outputs, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, inputs map[string]float64) (core.Outputs, error) {
	return f(ctx, inputs)
}

// SystemEvaluator evaluates directly against sys.
func SystemEvaluator(sys *core.System) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, inputs map[string]float64) (core.Outputs, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sys.Evaluate(inputs)
	})
}

// Failure explains why a case did not pass.
type Failure struct {
	Case   string `json:"case"`
	Reason string `json:"reason"`
}

// Report aggregates a run.
type Report struct {
	Metrics  map[string]float64 `json:"metrics"`
	Passed   bool               `json:"passed"`
	Failures []Failure          `json:"failures,omitempty"`
}

// maxLatencyMicros bounds the latency histogram at one minute.
const maxLatencyMicros = 60_000_000

// Runner executes regression cases.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

// Run evaluates each case and aggregates metrics, including latency_us_p50,
// latency_us_p99 and latency_us_max per case. The returned error is reserved
// for a cancelled context; failing cases are reported.
func (r *Runner) Run(ctx context.Context, eval Evaluator, cases []Case) (Report, error) {
	report := Report{
		Metrics: map[string]float64{
			"cases_total":       0,
			"cases_passed":      0,
			"cases_failed":      0,
			"duration_ms_total": 0,
		},
		Passed: true,
	}
	hg := hdrhistogram.New(1, maxLatencyMicros, 3)

	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		outputs, err := eval.Evaluate(ctx, tc.Inputs)
		elapsed := time.Since(start).Microseconds()
		report.Metrics["duration_ms_total"] += float64(elapsed) / 1000
		report.Metrics["cases_total"] += 1
		hg.RecordValue(min(max(elapsed, 1), maxLatencyMicros))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return report, err
		}

		if reason := evaluateCase(tc, outputs, err); reason != "" {
			report.Metrics["cases_failed"] += 1
			report.Passed = false
			report.Failures = append(report.Failures, Failure{Case: tc.Name, Reason: reason})
		} else {
			report.Metrics["cases_passed"] += 1
		}
	}

	if hg.TotalCount() > 0 {
		report.Metrics["latency_us_p50"] = float64(hg.ValueAtQuantile(50))
		report.Metrics["latency_us_p99"] = float64(hg.ValueAtQuantile(99))
		report.Metrics["latency_us_max"] = float64(hg.Max())
	}
	return report, nil
}

// evaluateCase returns an empty string when the outcome matches tc.
func evaluateCase(tc Case, outputs core.Outputs, err error) string {
	if tc.Error != "" {
		want, known := expectedError(tc.Error)
		if !known {
			return fmt.Sprintf("unknown expected error %q", tc.Error)
		}
		if !errors.Is(err, want) {
			return fmt.Sprintf("expected %s, got %v", tc.Error, err)
		}
		return ""
	}
	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}

	tol := tc.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	for _, name := range sortedKeys(tc.Want) {
		got, err := outputs.Value(name)
		if err != nil {
			return fmt.Sprintf("%s: %v", name, err)
		}
		if want := tc.Want[name]; math.Abs(got-want) > tol {
			return fmt.Sprintf("%s: got %v, want %v (tolerance %g)", name, got, want, tol)
		}
	}

	for _, name := range tc.NoRuleFired {
		out, ok := outputs[name]
		if !ok {
			return fmt.Sprintf("%s: no such consequent", name)
		}
		if !errors.Is(out.Err, core.ErrNoRuleFired) {
			return fmt.Sprintf("%s: expected no rule fired, got %v", name, out.Value)
		}
	}
	return ""
}

func expectedError(kind string) (error, bool) {
	switch kind {
	case ErrorMissingInput:
		return core.ErrMissingInput, true
	case ErrorInvalidInput:
		return core.ErrInvalidInput, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadCases reads a YAML list of cases.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cases: %w", err)
	}

	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse cases: %w", err)
	}
	for i, tc := range cases {
		if tc.Name == "" {
			return nil, fmt.Errorf("case %d has no name", i)
		}
		if tc.Error != "" {
			if _, ok := expectedError(tc.Error); !ok {
				return nil, fmt.Errorf("case %s: unknown error %q", tc.Name, tc.Error)
			}
		}
	}
	return cases, nil
}
