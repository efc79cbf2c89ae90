package core

import (
	"fmt"
	"math"
)

// System is an immutable inference model. It owns its variables and rules;
// rule leaves refer to variables and sets by handle. A System is safe for
// concurrent use by any number of evaluations.
type System struct {
	variables   []*Variable
	index       map[string]int
	antecedents []int
	consequents []int
	rules       []Rule
	method      Method

	// sampled[v][s] holds consequent set s of variable v over its universe.
	sampled [][][]float64
}

// Option configures a System.
type Option func(*System)

// WithDefuzzifier selects the defuzzification method. Centroid is the default.
func WithDefuzzifier(m Method) Option {
	return func(s *System) { s.method = m }
}

// NewSystem validates and binds the model. Every rule reference is resolved
// here; a dangling one fails with ErrUnboundVariable.
func NewSystem(variables []*Variable, rules []Rule, opts ...Option) (*System, error) {
	s := &System{
		index:  make(map[string]int, len(variables)),
		method: Centroid,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.method.valid() {
		return nil, invalidModel("unknown defuzzification method %q", s.method)
	}

	for _, v := range variables {
		if v == nil {
			return nil, invalidModel("nil variable")
		}
		if _, dup := s.index[v.Name()]; dup {
			return nil, invalidModel("variable %q declared twice", v.Name())
		}
		h := len(s.variables)
		s.index[v.Name()] = h
		s.variables = append(s.variables, v)
		switch v.Role() {
		case Antecedent:
			s.antecedents = append(s.antecedents, h)
		case Consequent:
			s.consequents = append(s.consequents, h)
		default:
			return nil, invalidModel("variable %q has unknown role", v.Name())
		}
	}
	if len(s.antecedents) == 0 {
		return nil, invalidModel("no antecedent variables")
	}
	if len(s.consequents) == 0 {
		return nil, invalidModel("no consequent variables")
	}
	if len(rules) == 0 {
		return nil, invalidModel("no rules")
	}

	s.rules = make([]Rule, len(rules))
	for i, r := range rules {
		if r.Label == "" {
			r.Label = fmt.Sprintf("rule%d", i)
		}
		bound, err := s.bind(r)
		if err != nil {
			return nil, err
		}
		s.rules[i] = bound
	}

	s.sampled = make([][][]float64, len(s.variables))
	for _, h := range s.consequents {
		v := s.variables[h]
		sets := make([][]float64, v.NumSets())
		for j := range sets {
			sets[j] = Sample(v.Set(j).MF, v.Universe())
		}
		s.sampled[h] = sets
	}
	return s, nil
}

// MustSystem is NewSystem for models known to be valid.
func MustSystem(variables []*Variable, rules []Rule, opts ...Option) *System {
	s, err := NewSystem(variables, rules, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *System) bind(r Rule) (Rule, error) {
	w := r.EffectiveWeight()
	if math.IsNaN(w) || w <= 0 || w > 1 {
		return Rule{}, invalidModel("rule %q weight %v outside (0, 1]", r.Label, r.Weight)
	}
	if r.Conjunction != NormMin && r.Conjunction != NormProduct {
		return Rule{}, invalidModel("rule %q has unknown conjunction", r.Label)
	}
	if r.Activation != Clip && r.Activation != Scale {
		return Rule{}, invalidModel("rule %q has unknown activation", r.Label)
	}
	if len(r.Then) == 0 {
		return Rule{}, invalidModel("rule %q assigns no consequent", r.Label)
	}

	expr, err := s.bindExpr(r.Label, r.If)
	if err != nil {
		return Rule{}, err
	}
	r.If = expr

	then := make([]Assignment, len(r.Then))
	for i, a := range r.Then {
		v, set, err := s.resolve(r.Label, a.Variable, a.Set, Consequent)
		if err != nil {
			return Rule{}, err
		}
		a.v, a.s = v, set
		then[i] = a
	}
	r.Then = then
	return r, nil
}

// bindExpr returns a resolved deep copy so callers cannot mutate the model.
func (s *System) bindExpr(label string, e Expr) (Expr, error) {
	switch e.Op {
	case OpTerm:
		v, set, err := s.resolve(label, e.Variable, e.Set, Antecedent)
		if err != nil {
			return Expr{}, err
		}
		e.v, e.s = v, set
		e.Operands = nil
		return e, nil
	case OpNot:
		if len(e.Operands) != 1 {
			return Expr{}, invalidModel("rule %q: NOT takes exactly one operand", label)
		}
	case OpAnd, OpOr:
		if len(e.Operands) == 0 {
			return Expr{}, invalidModel("rule %q: %s without operands", label, e.Op)
		}
	default:
		return Expr{}, invalidModel("rule %q: unknown expression node", label)
	}

	ops := make([]Expr, len(e.Operands))
	for i, op := range e.Operands {
		bound, err := s.bindExpr(label, op)
		if err != nil {
			return Expr{}, err
		}
		ops[i] = bound
	}
	e.Operands = ops
	return e, nil
}

func (s *System) resolve(label, variable, set string, role Role) (int, int, error) {
	h, ok := s.index[variable]
	if !ok {
		return 0, 0, &BindingError{Rule: label, Variable: variable, Set: set, Reason: "no such variable"}
	}
	v := s.variables[h]
	if v.Role() != role {
		return 0, 0, &BindingError{Rule: label, Variable: variable, Set: set, Reason: "variable is not an " + role.String()}
	}
	j, ok := v.SetIndex(set)
	if !ok {
		return 0, 0, &BindingError{Rule: label, Variable: variable, Set: set, Reason: "no such set"}
	}
	return h, j, nil
}

// Variable looks a variable up by name.
func (s *System) Variable(name string) (*Variable, bool) {
	h, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.variables[h], true
}

// Variables returns all variables in declaration order.
func (s *System) Variables() []*Variable {
	out := make([]*Variable, len(s.variables))
	copy(out, s.variables)
	return out
}

// Antecedents returns the input variable names in declaration order.
func (s *System) Antecedents() []string { return s.names(s.antecedents) }

// Consequents returns the output variable names in declaration order.
func (s *System) Consequents() []string { return s.names(s.consequents) }

func (s *System) names(handles []int) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = s.variables[h].Name()
	}
	return out
}

// Rules returns deep copies of the bound rules.
func (s *System) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		r.If = r.If.clone()
		r.Then = append([]Assignment(nil), r.Then...)
		out[i] = r
	}
	return out
}

// Defuzzifier reports the configured defuzzification method.
func (s *System) Defuzzifier() Method { return s.method }

// Evaluate runs one inference and returns a result per consequent.
// InvalidInput and MissingInput are returned as the error; NoRuleFired is
// reported per consequent in the returned Outputs.
func (s *System) Evaluate(inputs map[string]float64) (Outputs, error) {
	sess, err := s.Run(inputs)
	if err != nil {
		return nil, err
	}
	return sess.Outputs(), nil
}

// Run evaluates inputs and returns the session for introspection.
func (s *System) Run(inputs map[string]float64) (*Session, error) {
	sess := s.NewSession()
	for name, x := range inputs {
		sess.inputs[name] = x
	}
	if err := sess.Compute(); err != nil {
		return nil, err
	}
	return sess, nil
}
