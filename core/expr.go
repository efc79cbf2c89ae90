package core

import (
	"math"
	"strings"
)

// Op tags an expression node.
type Op int

const (
	OpTerm Op = iota
	OpAnd
	OpOr
	OpNot
)

func (o Op) String() string {
	switch o {
	case OpTerm:
		return "term"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	default:
		return "unknown"
	}
}

// Expr is an antecedent expression tree. Leaves name a variable and one of
// its sets; inner nodes combine their operands. Names are resolved to handles
// when the expression is bound into a System.
type Expr struct {
	Op       Op
	Variable string
	Set      string
	Operands []Expr

	v, s int
}

// Is builds a leaf "variable is set".
func Is(variable, set string) Expr {
	return Expr{Op: OpTerm, Variable: variable, Set: set}
}

// And combines operands with the rule's T-norm.
func And(operands ...Expr) Expr {
	return Expr{Op: OpAnd, Operands: operands}
}

// Or combines operands with the S-norm dual to the rule's T-norm.
func Or(operands ...Expr) Expr {
	return Expr{Op: OpOr, Operands: operands}
}

// Not complements its operand (1 - x).
func Not(operand Expr) Expr {
	return Expr{Op: OpNot, Operands: []Expr{operand}}
}

// Terms lists every leaf in left-to-right order.
func (e Expr) Terms() []Expr {
	var out []Expr
	e.walk(func(n Expr) {
		if n.Op == OpTerm {
			out = append(out, n)
		}
	})
	return out
}

func (e Expr) clone() Expr {
	if e.Operands == nil {
		return e
	}
	ops := make([]Expr, len(e.Operands))
	for i, op := range e.Operands {
		ops[i] = op.clone()
	}
	e.Operands = ops
	return e
}

func (e Expr) walk(fn func(Expr)) {
	fn(e)
	for _, op := range e.Operands {
		op.walk(fn)
	}
}

// String renders the expression, e.g. "taste[good] AND (spiciness[low] OR spiciness[medium])".
func (e Expr) String() string {
	var b strings.Builder
	e.format(&b, false)
	return b.String()
}

func (e Expr) format(b *strings.Builder, nested bool) {
	switch e.Op {
	case OpTerm:
		b.WriteString(e.Variable)
		b.WriteByte('[')
		b.WriteString(e.Set)
		b.WriteByte(']')
	case OpNot:
		b.WriteString("NOT ")
		if len(e.Operands) == 1 {
			e.Operands[0].format(b, true)
		}
	case OpAnd, OpOr:
		sep := " AND "
		if e.Op == OpOr {
			sep = " OR "
		}
		if nested && len(e.Operands) > 1 {
			b.WriteByte('(')
		}
		for i, op := range e.Operands {
			if i > 0 {
				b.WriteString(sep)
			}
			op.format(b, true)
		}
		if nested && len(e.Operands) > 1 {
			b.WriteByte(')')
		}
	}
}

// eval computes the firing degree from per-variable, per-set memberships.
// The tree must have been bound by NewSystem.
func (e *Expr) eval(memberships [][]float64, norm Norm) float64 {
	switch e.Op {
	case OpTerm:
		return memberships[e.v][e.s]
	case OpNot:
		return 1 - e.Operands[0].eval(memberships, norm)
	case OpAnd:
		acc := e.Operands[0].eval(memberships, norm)
		for i := 1; i < len(e.Operands); i++ {
			acc = norm.And(acc, e.Operands[i].eval(memberships, norm))
		}
		return acc
	case OpOr:
		acc := e.Operands[0].eval(memberships, norm)
		for i := 1; i < len(e.Operands); i++ {
			acc = norm.Or(acc, e.Operands[i].eval(memberships, norm))
		}
		return acc
	}
	return 0
}

// Norm selects the conjunction and its dual disjunction.
type Norm int

const (
	// NormMin is the Zadeh pair: AND = min, OR = max.
	NormMin Norm = iota
	// NormProduct is AND = p*q, OR = p+q-p*q.
	NormProduct
)

func (n Norm) String() string {
	if n == NormProduct {
		return "product"
	}
	return "min"
}

func (n Norm) And(p, q float64) float64 {
	if n == NormProduct {
		return p * q
	}
	return math.Min(p, q)
}

func (n Norm) Or(p, q float64) float64 {
	if n == NormProduct {
		return p + q - p*q
	}
	return math.Max(p, q)
}
