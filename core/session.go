package core

import (
	"errors"
	"math"
)

// Output is the result for one consequent: a crisp Value, or Err set to a
// *NoRuleFiredError.
type Output struct {
	Value float64
	Err   error
}

// Outputs maps consequent names to their results.
type Outputs map[string]Output

// Value returns the crisp value of the named consequent.
func (o Outputs) Value(name string) (float64, error) {
	out, ok := o[name]
	if !ok {
		return 0, invalidModel("no consequent %q", name)
	}
	if out.Err != nil {
		return 0, out.Err
	}
	return out.Value, nil
}

// Session holds one evaluation's inputs and intermediate buffers. It borrows
// its System read-only and must not be shared between goroutines.
type Session struct {
	sys    *System
	inputs map[string]float64

	computed    bool
	memberships [][]float64
	strengths   []float64
	aggregates  [][]float64
	outputs     Outputs
}

// NewSession starts an empty session.
func (s *System) NewSession() *Session {
	return &Session{sys: s, inputs: make(map[string]float64, len(s.antecedents))}
}

// SetInput binds a crisp value. Unknown names are kept but ignored.
func (sess *Session) SetInput(name string, x float64) {
	sess.inputs[name] = x
	sess.computed = false
}

// Compute runs fuzzification, rule evaluation, aggregation and
// defuzzification in that order.
func (sess *Session) Compute() error {
	s := sess.sys

	// bind and validate every antecedent before touching any rule
	crisp := make([]float64, len(s.variables))
	for _, h := range s.antecedents {
		name := s.variables[h].Name()
		x, ok := sess.inputs[name]
		if !ok {
			return &InputError{Variable: name, Kind: ErrMissingInput}
		}
		if !isFinite(x) {
			return &InputError{Variable: name, Value: x, Kind: ErrInvalidInput}
		}
		crisp[h] = x
	}

	sess.memberships = make([][]float64, len(s.variables))
	for _, h := range s.antecedents {
		sess.memberships[h] = s.variables[h].Fuzzify(crisp[h])
	}

	sess.strengths = make([]float64, len(s.rules))
	for i := range s.rules {
		sess.strengths[i] = s.rules[i].strength(sess.memberships)
	}

	sess.aggregates = make([][]float64, len(s.variables))
	for _, h := range s.consequents {
		sess.aggregates[h] = make([]float64, s.variables[h].Universe().Len())
	}
	for i := range s.rules {
		r := &s.rules[i]
		strength := sess.strengths[i]
		if strength == 0 {
			continue
		}
		for _, a := range r.Then {
			buf := sess.aggregates[a.v]
			mf := s.sampled[a.v][a.s]
			for k := range buf {
				buf[k] = math.Max(buf[k], r.imply(strength, mf[k]))
			}
		}
	}

	sess.outputs = make(Outputs, len(s.consequents))
	for _, h := range s.consequents {
		v := s.variables[h]
		value, err := Defuzzify(s.method, v.Universe(), sess.aggregates[h])
		if errors.Is(err, ErrNoRuleFired) {
			sess.outputs[v.Name()] = Output{Err: &NoRuleFiredError{Variable: v.Name()}}
			continue
		}
		if err != nil {
			return err
		}
		sess.outputs[v.Name()] = Output{Value: value}
	}
	sess.computed = true
	return nil
}

// Outputs returns the per-consequent results of the last Compute.
func (sess *Session) Outputs() Outputs {
	out := make(Outputs, len(sess.outputs))
	for k, v := range sess.outputs {
		out[k] = v
	}
	return out
}

// Computed reports whether the session holds results for its current inputs.
func (sess *Session) Computed() bool { return sess.computed }

// Memberships returns the degree of the named antecedent in each of its sets,
// keyed by set name.
func (sess *Session) Memberships(variable string) map[string]float64 {
	h, ok := sess.sys.index[variable]
	if !ok || sess.memberships == nil || sess.memberships[h] == nil {
		return nil
	}
	v := sess.sys.variables[h]
	out := make(map[string]float64, v.NumSets())
	for j, d := range sess.memberships[h] {
		out[v.Set(j).Name] = d
	}
	return out
}

// Strengths returns the firing strength of every rule, in rule order.
func (sess *Session) Strengths() []float64 {
	out := make([]float64, len(sess.strengths))
	copy(out, sess.strengths)
	return out
}

// Aggregate returns a copy of the named consequent's output distribution.
func (sess *Session) Aggregate(variable string) []float64 {
	h, ok := sess.sys.index[variable]
	if !ok || sess.aggregates == nil || sess.aggregates[h] == nil {
		return nil
	}
	out := make([]float64, len(sess.aggregates[h]))
	copy(out, sess.aggregates[h])
	return out
}
