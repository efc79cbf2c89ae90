package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/evaluator"
	"github.com/snow-ghost/fuzzyeval/food"
	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/snow-ghost/fuzzyeval/pkg/client"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
	"github.com/snow-ghost/fuzzyeval/testkit"
)

// Exit codes
const (
	exitOK          = 0
	exitError       = 1
	exitRejected    = 2
	exitNoRuleFired = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	taste, spiciness, temperature, sweetness float64

	dataset     bool
	cases       string
	remote      string
	caller      string
	model       string
	saveModel   string
	rule13      bool
	defuzzifier string
	explain     bool
	jsonOut     bool
	timeout     time.Duration
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("fuzzyeval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Float64Var(&opts.taste, "taste", 0, "Taste score, 0-10")
	fs.Float64Var(&opts.spiciness, "spiciness", 0, "Spiciness score, 0-10")
	fs.Float64Var(&opts.temperature, "temperature", 0, "Temperature score, 0-10")
	fs.Float64Var(&opts.sweetness, "sweetness", 0, "Sweetness score, 0-10")
	fs.BoolVar(&opts.dataset, "dataset", false, "Evaluate the built-in sample dataset")
	fs.StringVar(&opts.cases, "cases", "", "Run regression cases from a YAML file")
	fs.StringVar(&opts.remote, "remote", "", "Evaluate against a fuzzyd base URL instead of locally")
	fs.StringVar(&opts.caller, "caller", "cli", "Caller name sent to the remote service")
	fs.StringVar(&opts.model, "model", "", "Load the model from a YAML or TOML definition")
	fs.StringVar(&opts.saveModel, "save-model", "", "Write the model definition (.toml for TOML, YAML otherwise) and exit")
	fs.BoolVar(&opts.rule13, "rule13", false, "Enable the warm-and-bland rule of the food model")
	fs.StringVar(&opts.defuzzifier, "defuzzifier", "", "Defuzzifier: centroid, bisector, mom, som, lom")
	fs.BoolVar(&opts.explain, "explain", false, "Print rule firing strengths (local only)")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := validate(opts); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	s, sys, err := newScorer(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer s.Close()

	switch {
	case opts.saveModel != "":
		def := registry.Describe(s.Name(), sys)
		if err := registry.NewLoader(opts.saveModel).SaveDefinition(def); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "Model %s written to %s\n", def.Name, opts.saveModel)
		return exitOK
	case opts.cases != "":
		return runCases(ctx, s, opts.cases, stdout, stderr)
	case opts.dataset:
		return runDataset(ctx, s, opts.jsonOut, stdout, stderr)
	default:
		inputs := food.Inputs(opts.taste, opts.spiciness, opts.temperature, opts.sweetness)
		code := evaluateOne(ctx, s, inputs, opts.jsonOut, stdout, stderr)
		if opts.explain && code != exitRejected {
			explain(sys, inputs, stdout)
		}
		return code
	}
}

func validate(opts options) error {
	if opts.remote == "" {
		return nil
	}
	switch {
	case opts.explain:
		return errors.New("-explain requires local evaluation")
	case opts.model != "" || opts.rule13 || opts.defuzzifier != "":
		return errors.New("-model, -rule13 and -defuzzifier configure local evaluation; the remote service serves its own model")
	case opts.saveModel != "":
		return errors.New("-save-model requires local evaluation")
	}
	return nil
}

// scorer evaluates one input vector, locally or remotely
type scorer interface {
	Name() string
	Score(ctx context.Context, inputs map[string]float64) (map[string]api.Output, error)
	Close() error
}

// newScorer returns the local system alongside the scorer when not remote
func newScorer(opts options) (scorer, *core.System, error) {
	if opts.remote != "" {
		return &remoteScorer{c: client.NewClient(client.Config{
			BaseURL: opts.remote,
			Caller:  opts.caller,
			Timeout: opts.timeout,
		})}, nil, nil
	}

	def, err := evaluator.LoadDefinition(&evaluator.Config{
		ModelConfig:   opts.model,
		IncludeRule13: opts.rule13,
		Defuzzifier:   opts.defuzzifier,
	})
	if err != nil {
		return nil, nil, err
	}
	sys, err := registry.Build(def)
	if err != nil {
		return nil, nil, fmt.Errorf("build model %s: %w", def.Name, err)
	}
	svc, err := evaluator.NewService(sys, evaluator.Options{Name: def.Name})
	if err != nil {
		return nil, nil, err
	}
	return &localScorer{svc: svc}, sys, nil
}

type localScorer struct {
	svc *evaluator.Service
}

func (l *localScorer) Name() string { return l.svc.Name() }
func (l *localScorer) Close() error { return l.svc.Close() }

func (l *localScorer) Score(ctx context.Context, inputs map[string]float64) (map[string]api.Output, error) {
	eval, err := l.svc.Evaluate(ctx, inputs)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]api.Output, len(eval.Outputs))
	for name, r := range eval.Outputs {
		outputs[name] = api.Output{Status: r.Status, Value: r.Value, Band: r.Band}
	}
	return outputs, nil
}

type remoteScorer struct {
	c *client.Client
}

func (r *remoteScorer) Name() string { return "remote" }
func (r *remoteScorer) Close() error { return nil }

func (r *remoteScorer) Score(ctx context.Context, inputs map[string]float64) (map[string]api.Output, error) {
	resp, err := r.c.Evaluate(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

// asEvaluator adapts a scorer to the regression runner
func asEvaluator(s scorer) testkit.Evaluator {
	return testkit.EvaluatorFunc(func(ctx context.Context, inputs map[string]float64) (core.Outputs, error) {
		outputs, err := s.Score(ctx, inputs)
		if err != nil {
			return nil, err
		}
		result := make(core.Outputs, len(outputs))
		for name, out := range outputs {
			if out.Value == nil {
				result[name] = core.Output{Err: &core.NoRuleFiredError{Variable: name}}
				continue
			}
			result[name] = core.Output{Value: *out.Value}
		}
		return result, nil
	})
}

type scoredRow struct {
	Inputs  map[string]float64    `json:"inputs"`
	Outputs map[string]api.Output `json:"outputs,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func evaluateOne(ctx context.Context, s scorer, inputs map[string]float64, jsonOut bool, stdout, stderr io.Writer) int {
	outputs, err := s.Score(ctx, inputs)
	if err != nil {
		if jsonOut {
			writeJSON(stdout, scoredRow{Inputs: inputs, Error: err.Error()})
		}
		if errors.Is(err, core.ErrMissingInput) || errors.Is(err, core.ErrInvalidInput) {
			fmt.Fprintf(stderr, "Input rejected: %v\n", err)
			return exitRejected
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if jsonOut {
		writeJSON(stdout, scoredRow{Inputs: inputs, Outputs: outputs})
	} else {
		for _, name := range sortedNames(outputs) {
			fmt.Fprintln(stdout, describe(name, outputs[name]))
		}
	}

	for _, out := range outputs {
		if out.Value == nil {
			return exitNoRuleFired
		}
	}
	return exitOK
}

func runDataset(ctx context.Context, s scorer, jsonOut bool, stdout, stderr io.Writer) int {
	samples := testkit.SampleDataset()
	rows := make([]scoredRow, 0, len(samples))
	code := exitOK

	for _, sample := range samples {
		inputs := sample.Inputs()
		outputs, err := s.Score(ctx, inputs)
		row := scoredRow{Inputs: inputs, Outputs: outputs}
		if err != nil {
			row.Error = err.Error()
			code = exitError
		}
		rows = append(rows, row)

		if jsonOut {
			continue
		}
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", sample, err)
			continue
		}
		for _, name := range sortedNames(outputs) {
			fmt.Fprintf(stdout, "%s  %s\n", sample, describe(name, outputs[name]))
		}
	}

	if jsonOut {
		writeJSON(stdout, rows)
	}
	return code
}

func runCases(ctx context.Context, s scorer, path string, stdout, stderr io.Writer) int {
	cases, err := testkit.LoadCases(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	report, err := testkit.NewRunner().Run(ctx, asEvaluator(s), cases)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	failed := make(map[string]string, len(report.Failures))
	for _, f := range report.Failures {
		failed[f.Case] = f.Reason
	}
	for _, tc := range cases {
		if reason, ok := failed[tc.Name]; ok {
			fmt.Fprintf(stdout, "FAIL %s: %s\n", tc.Name, reason)
		} else {
			fmt.Fprintf(stdout, "PASS %s\n", tc.Name)
		}
	}
	fmt.Fprintf(stdout, "%.0f/%.0f cases passed in %.3fms\n",
		report.Metrics["cases_passed"], report.Metrics["cases_total"], report.Metrics["duration_ms_total"])

	if !report.Passed {
		return exitError
	}
	return exitOK
}

// explain prints each rule's firing strength
func explain(sys *core.System, inputs map[string]float64, stdout io.Writer) {
	sess, err := sys.Run(inputs)
	if err != nil {
		return
	}
	strengths := sess.Strengths()
	for i, r := range sys.Rules() {
		fmt.Fprintf(stdout, "  %-8s %.6f  %s\n", r.Label, strengths[i], r.String())
	}
}

func describe(name string, out api.Output) string {
	if out.Value == nil {
		return fmt.Sprintf("%s: no rule fired, the inputs fall outside every rule", name)
	}
	if out.Band == "" {
		return fmt.Sprintf("%s: %.4f", name, *out.Value)
	}
	return fmt.Sprintf("%s: %.4f (%s)", name, *out.Value, out.Band)
}

func sortedNames(outputs map[string]api.Output) []string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
