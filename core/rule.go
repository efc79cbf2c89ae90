package core

import (
	"fmt"
	"math"
	"strings"
)

// Activation is the implication applied to a consequent set.
type Activation int

const (
	// Clip truncates the consequent at the firing strength (min).
	Clip Activation = iota
	// Scale multiplies the consequent by the firing strength (product).
	Scale
)

func (a Activation) String() string {
	if a == Scale {
		return "scale"
	}
	return "clip"
}

// Assignment names the consequent set a rule fires into.
type Assignment struct {
	Variable string
	Set      string

	v, s int
}

// Then builds an Assignment.
func Then(variable, set string) Assignment {
	return Assignment{Variable: variable, Set: set}
}

func (a Assignment) String() string {
	return a.Variable + "[" + a.Set + "]"
}

// Rule pairs an antecedent expression with one or more consequent sets.
// A zero Weight means 1.
type Rule struct {
	Label       string
	If          Expr
	Then        []Assignment
	Weight      float64
	Conjunction Norm
	Activation  Activation
}

// NewRule builds a rule with default weight, Zadeh connectives and clipping.
func NewRule(label string, antecedent Expr, consequents ...Assignment) Rule {
	return Rule{Label: label, If: antecedent, Then: consequents}
}

// WithWeight returns a copy of r with the given weight.
func (r Rule) WithWeight(w float64) Rule {
	r.Weight = w
	return r
}

// EffectiveWeight reports the weight used at evaluation time.
func (r Rule) EffectiveWeight() float64 {
	if r.Weight == 0 {
		return 1
	}
	return r.Weight
}

func (r Rule) String() string {
	then := make([]string, len(r.Then))
	for i, a := range r.Then {
		then[i] = a.String()
	}
	s := fmt.Sprintf("IF %s THEN %s", r.If, strings.Join(then, ", "))
	if w := r.EffectiveWeight(); w != 1 {
		s += fmt.Sprintf(" WITH %g", w)
	}
	return s
}

// strength evaluates the antecedent and applies the weight.
func (r *Rule) strength(memberships [][]float64) float64 {
	return clamp01(r.If.eval(memberships, r.Conjunction) * r.EffectiveWeight())
}

func (r *Rule) imply(strength, degree float64) float64 {
	if r.Activation == Scale {
		return strength * degree
	}
	return math.Min(strength, degree)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
