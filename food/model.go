// Package food holds the compiled-in food usefulness model: four antecedents
// scored 0..10 and one consequent scored 0..100.
package food

import (
	"fmt"

	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
)

// Variable names.
const (
	Taste       = "taste"
	Spiciness   = "spiciness"
	Temperature = "temperature"
	Sweetness   = "sweetness"
	Usefulness  = "usefulness"
)

// Usefulness bands, in declaration order.
const (
	NotUseful        = "not_useful"
	ModeratelyUseful = "moderately_useful"
	VeryUseful       = "very_useful"
)

// ModelName identifies the food model in definitions and journals.
const ModelName = "food-usefulness"

type options struct {
	rule13 bool
	method core.Method
}

// Option customizes the food model.
type Option func(*options)

// WithRule13 enables the warm-and-bland rule, which is defined but not wired
// into the reference rule list.
func WithRule13() Option {
	return func(o *options) { o.rule13 = true }
}

// WithDefuzzifier overrides the centroid default.
func WithDefuzzifier(m core.Method) Option {
	return func(o *options) { o.method = m }
}

func is(variable, set string) registry.Expression {
	return registry.Expression{Is: &registry.Term{Variable: variable, Set: set}}
}

func and(ops ...registry.Expression) registry.Expression { return registry.Expression{And: ops} }
func or(ops ...registry.Expression) registry.Expression  { return registry.Expression{Or: ops} }

func rule(label string, cond registry.Expression, band string) registry.RuleConfig {
	return registry.RuleConfig{
		Label: label,
		If:    cond,
		Then:  []registry.Term{{Variable: Usefulness, Set: band}},
	}
}

func inputVariable(name string, sets ...registry.SetConfig) registry.VariableConfig {
	return registry.VariableConfig{
		Name:     name,
		Role:     core.Antecedent.String(),
		Universe: registry.Universe{Min: 0, Max: 10, Step: 1},
		Sets:     sets,
	}
}

func set(name, shape string, params ...float64) registry.SetConfig {
	return registry.SetConfig{Name: name, Shape: shape, Params: params}
}

// Definition returns a fresh copy of the food model definition.
func Definition(opts ...Option) *registry.Definition {
	o := options{method: core.Centroid}
	for _, opt := range opts {
		opt(&o)
	}

	def := &registry.Definition{
		Name:        ModelName,
		Defuzzifier: string(o.method),
		Variables: []registry.VariableConfig{
			inputVariable(Taste,
				set("poor", "trapezoidal", 0, 1, 3, 5),
				set("average", "trapezoidal", 2, 4, 5, 7),
				set("good", "trapezoidal", 5, 8, 10, 10),
			),
			inputVariable(Spiciness,
				set("low", "triangular", 0, 3, 5),
				set("medium", "triangular", 3, 5, 7),
				set("high", "triangular", 5, 7, 10),
			),
			inputVariable(Temperature,
				set("cold", "gaussian", 2, 1),
				set("warm", "gaussian", 5, 1),
				set("hot", "gaussian", 8, 1),
			),
			inputVariable(Sweetness,
				set("low", "trapezoidal", 0, 1, 3, 5),
				set("medium", "trapezoidal", 2, 4, 5, 7),
				set("high", "trapezoidal", 5, 8, 10, 10),
			),
			{
				Name:     Usefulness,
				Role:     core.Consequent.String(),
				Universe: registry.Universe{Min: 0, Max: 100, Step: 1},
				Sets: []registry.SetConfig{
					set(NotUseful, "triangular", 0, 0, 50),
					set(ModeratelyUseful, "triangular", 0, 50, 100),
					set(VeryUseful, "triangular", 50, 100, 100),
				},
			},
		},
	}

	var (
		good    = is(Taste, "good")
		average = is(Taste, "average")
		poor    = is(Taste, "poor")

		spLow    = is(Spiciness, "low")
		spMedium = is(Spiciness, "medium")
		spHigh   = is(Spiciness, "high")

		cold = is(Temperature, "cold")
		warm = is(Temperature, "warm")
		hot  = is(Temperature, "hot")

		swLow    = is(Sweetness, "low")
		swMedium = is(Sweetness, "medium")
		swHigh   = is(Sweetness, "high")
	)

	def.Rules = []registry.RuleConfig{
		rule("rule1", or(and(good, or(spMedium, spLow)), or(swMedium, swLow)), VeryUseful),
		rule("rule2", and(good, or(swHigh, spHigh)), ModeratelyUseful),
		rule("rule3", and(good, cold), ModeratelyUseful),
		rule("rule4", and(good, or(warm, hot)), VeryUseful),
		rule("rule5", and(average, or(swMedium, spMedium), or(warm, hot)), ModeratelyUseful),
		rule("rule6", and(average, or(cold, warm)), NotUseful),
		rule("rule7", and(average, hot), ModeratelyUseful),
		rule("rule8", poor, NotUseful),
		rule("rule9", and(swHigh, spHigh), NotUseful),
		rule("rule10", or(swHigh, spHigh), ModeratelyUseful),
		rule("rule11", or(poor, swLow, spLow, cold), NotUseful),
		rule("rule12", hot, VeryUseful),
	}

	r13 := rule("rule13", and(warm, or(swLow, spLow)), NotUseful)
	r13.Disabled = !o.rule13
	def.Rules = append(def.Rules, r13)

	return def
}

// Model is the built food system.
type Model struct {
	sys        *core.System
	usefulness *core.Variable
}

// BuildModel compiles the food definition.
func BuildModel(opts ...Option) (*Model, error) {
	sys, err := registry.Build(Definition(opts...))
	if err != nil {
		return nil, fmt.Errorf("building food model: %w", err)
	}
	return NewModel(sys)
}

// MustBuildModel panics if the compiled-in definition is broken.
func MustBuildModel(opts ...Option) *Model {
	m, err := BuildModel(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// NewModel wraps a system that has the food variables, for example one
// loaded from a YAML definition.
func NewModel(sys *core.System) (*Model, error) {
	for _, name := range []string{Taste, Spiciness, Temperature, Sweetness} {
		v, ok := sys.Variable(name)
		if !ok || v.Role() != core.Antecedent {
			return nil, fmt.Errorf("%w: food model needs antecedent %q", core.ErrInvalidModel, name)
		}
	}
	u, ok := sys.Variable(Usefulness)
	if !ok || u.Role() != core.Consequent {
		return nil, fmt.Errorf("%w: food model needs consequent %q", core.ErrInvalidModel, Usefulness)
	}
	return &Model{sys: sys, usefulness: u}, nil
}

// System exposes the underlying inference system.
func (m *Model) System() *core.System { return m.sys }

// Result is one food evaluation.
type Result struct {
	Usefulness float64 `json:"usefulness"`
	Band       string  `json:"band"`
}

// Inputs builds the input map for one evaluation.
func Inputs(taste, spiciness, temperature, sweetness float64) map[string]float64 {
	return map[string]float64{
		Taste:       taste,
		Spiciness:   spiciness,
		Temperature: temperature,
		Sweetness:   sweetness,
	}
}

// Evaluate scores one item. A *core.NoRuleFiredError is returned when no rule
// contributes to usefulness.
func (m *Model) Evaluate(taste, spiciness, temperature, sweetness float64) (Result, error) {
	out, err := m.sys.Evaluate(Inputs(taste, spiciness, temperature, sweetness))
	if err != nil {
		return Result{}, err
	}
	v, err := out.Value(Usefulness)
	if err != nil {
		return Result{}, err
	}
	return Result{Usefulness: v, Band: m.Classify(v)}, nil
}

// Classify names the usefulness set with the highest membership at v.
// Ties go to the set declared first.
func (m *Model) Classify(v float64) string {
	return m.usefulness.Classify(v)
}
