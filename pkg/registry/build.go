package registry

import (
	"fmt"
	"strings"

	"github.com/snow-ghost/fuzzyeval/core"
)

// Build validates the definition and compiles it into an immutable system.
// Every name is resolved here; evaluation never looks names up again.
func Build(def *Definition) (*core.System, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", core.ErrInvalidModel)
	}

	method, err := core.ParseMethod(def.Defuzzifier)
	if err != nil {
		return nil, err
	}

	vars := make([]*core.Variable, 0, len(def.Variables))
	for _, vc := range def.Variables {
		v, err := buildVariable(vc)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}

	active := def.ActiveRules()
	rules := make([]core.Rule, 0, len(active))
	for i, rc := range active {
		r, err := buildRule(rc)
		if err != nil {
			label := rc.Label
			if label == "" {
				label = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("rule %s: %w", label, err)
		}
		rules = append(rules, r)
	}

	return core.NewSystem(vars, rules, core.WithDefuzzifier(method))
}

func buildVariable(vc VariableConfig) (*core.Variable, error) {
	var role core.Role
	switch strings.ToLower(vc.Role) {
	case "antecedent", "input":
		role = core.Antecedent
	case "consequent", "output":
		role = core.Consequent
	default:
		return nil, fmt.Errorf("%w: variable %q has unknown role %q", core.ErrInvalidModel, vc.Name, vc.Role)
	}

	u, err := core.NewUniverse(vc.Universe.Min, vc.Universe.Max, vc.Universe.Step)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", vc.Name, err)
	}

	sets := make([]core.FuzzySet, 0, len(vc.Sets))
	for _, sc := range vc.Sets {
		mf, err := NewMembership(sc.Shape, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("set %s[%s]: %w", vc.Name, sc.Name, err)
		}
		sets = append(sets, core.FuzzySet{Name: sc.Name, MF: mf})
	}
	return core.NewVariable(vc.Name, role, u, sets...)
}

// NewMembership constructs a membership function from a shape name and its
// parameter vector. The short names of the reference toolkit are accepted.
func NewMembership(shape string, p []float64) (core.MembershipFunction, error) {
	want := func(n int) error {
		if len(p) != n {
			return fmt.Errorf("%w: %s takes %d parameters, got %d", core.ErrInvalidModel, shape, n, len(p))
		}
		return nil
	}

	switch strings.ToLower(shape) {
	case "triangular", "trimf":
		if err := want(3); err != nil {
			return nil, err
		}
		return core.NewTriangular(p[0], p[1], p[2])
	case "trapezoidal", "trapmf":
		if err := want(4); err != nil {
			return nil, err
		}
		return core.NewTrapezoidal(p[0], p[1], p[2], p[3])
	case "gaussian", "gaussmf":
		if err := want(2); err != nil {
			return nil, err
		}
		return core.NewGaussian(p[0], p[1])
	case "sigmoid", "sigmf":
		if err := want(2); err != nil {
			return nil, err
		}
		return core.NewSigmoid(p[0], p[1])
	case "bell", "gbellmf":
		if err := want(3); err != nil {
			return nil, err
		}
		return core.NewGeneralizedBell(p[0], p[1], p[2])
	default:
		return nil, fmt.Errorf("%w: unknown membership shape %q", core.ErrInvalidModel, shape)
	}
}

func buildRule(rc RuleConfig) (core.Rule, error) {
	expr, err := rc.If.ToExpr()
	if err != nil {
		return core.Rule{}, err
	}

	r := core.Rule{Label: rc.Label, If: expr, Weight: rc.Weight}
	for _, t := range rc.Then {
		r.Then = append(r.Then, core.Then(t.Variable, t.Set))
	}

	switch strings.ToLower(rc.Conjunction) {
	case "", "min":
		r.Conjunction = core.NormMin
	case "product", "prod":
		r.Conjunction = core.NormProduct
	default:
		return core.Rule{}, fmt.Errorf("%w: unknown conjunction %q", core.ErrInvalidModel, rc.Conjunction)
	}

	switch strings.ToLower(rc.Activation) {
	case "", "clip", "min":
		r.Activation = core.Clip
	case "scale", "product":
		r.Activation = core.Scale
	default:
		return core.Rule{}, fmt.Errorf("%w: unknown activation %q", core.ErrInvalidModel, rc.Activation)
	}
	return r, nil
}

// ToExpr converts the declarative tree into a core expression.
func (e Expression) ToExpr() (core.Expr, error) {
	set := 0
	if e.Is != nil {
		set++
	}
	if e.And != nil {
		set++
	}
	if e.Or != nil {
		set++
	}
	if e.Not != nil {
		set++
	}
	if set != 1 {
		return core.Expr{}, fmt.Errorf("%w: expression node must set exactly one of is/and/or/not", core.ErrInvalidModel)
	}

	switch {
	case e.Is != nil:
		return core.Is(e.Is.Variable, e.Is.Set), nil
	case e.Not != nil:
		inner, err := e.Not.ToExpr()
		if err != nil {
			return core.Expr{}, err
		}
		return core.Not(inner), nil
	}

	children := e.And
	build := core.And
	if e.Or != nil {
		children = e.Or
		build = core.Or
	}
	ops := make([]core.Expr, 0, len(children))
	for _, c := range children {
		op, err := c.ToExpr()
		if err != nil {
			return core.Expr{}, err
		}
		ops = append(ops, op)
	}
	return build(ops...), nil
}

// FromExpr converts a core expression into its declarative form.
func FromExpr(e core.Expr) Expression {
	switch e.Op {
	case core.OpTerm:
		return Expression{Is: &Term{Variable: e.Variable, Set: e.Set}}
	case core.OpNot:
		inner := FromExpr(e.Operands[0])
		return Expression{Not: &inner}
	}
	ops := make([]Expression, len(e.Operands))
	for i, op := range e.Operands {
		ops[i] = FromExpr(op)
	}
	if e.Op == core.OpOr {
		return Expression{Or: ops}
	}
	return Expression{And: ops}
}

// Describe reconstructs a definition from a built system.
func Describe(name string, sys *core.System) *Definition {
	def := &Definition{Name: name, Defuzzifier: string(sys.Defuzzifier())}

	for _, v := range sys.Variables() {
		u := v.Universe()
		vc := VariableConfig{
			Name:     v.Name(),
			Role:     v.Role().String(),
			Universe: Universe{Min: u.Min(), Max: u.Max(), Step: u.Step()},
		}
		for i := 0; i < v.NumSets(); i++ {
			s := v.Set(i)
			vc.Sets = append(vc.Sets, SetConfig{Name: s.Name, Shape: s.MF.Kind(), Params: s.MF.Params()})
		}
		def.Variables = append(def.Variables, vc)
	}

	for _, r := range sys.Rules() {
		rc := RuleConfig{
			Label:       r.Label,
			If:          FromExpr(r.If),
			Conjunction: r.Conjunction.String(),
			Activation:  r.Activation.String(),
		}
		if w := r.EffectiveWeight(); w != 1 {
			rc.Weight = w
		}
		for _, a := range r.Then {
			rc.Then = append(rc.Then, Term{Variable: a.Variable, Set: a.Set})
		}
		def.Rules = append(def.Rules, rc)
	}
	return def
}
