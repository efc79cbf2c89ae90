package core

import "math"

// MembershipFunction maps a crisp value to a degree in [0, 1]. Implementations
// are pure and total over the reals; values outside a variable's nominal
// universe are evaluated by the raw formula.
type MembershipFunction interface {
	Degree(x float64) float64
	Kind() string
	Params() []float64
}

// Triangular rises linearly from A to a peak of 1 at B and falls to 0 at C.
type Triangular struct {
	A, B, C float64
}

// NewTriangular validates a <= b <= c.
func NewTriangular(a, b, c float64) (Triangular, error) {
	if !allFinite(a, b, c) {
		return Triangular{}, invalidModel("triangular parameters must be finite")
	}
	if a > b || b > c {
		return Triangular{}, invalidModel("triangular parameters must satisfy a <= b <= c, got [%v %v %v]", a, b, c)
	}
	return Triangular{A: a, B: b, C: c}, nil
}

func (t Triangular) Degree(x float64) float64 {
	switch {
	case x < t.A || x > t.C:
		return 0
	case x == t.B:
		return 1
	case x < t.B:
		// x >= A and x < B imply A < B
		return (x - t.A) / (t.B - t.A)
	default:
		return (t.C - x) / (t.C - t.B)
	}
}

func (t Triangular) Kind() string      { return "triangular" }
func (t Triangular) Params() []float64 { return []float64{t.A, t.B, t.C} }

// Trapezoidal rises from A to B, holds 1 on [B, C] and falls to 0 at D.
type Trapezoidal struct {
	A, B, C, D float64
}

// NewTrapezoidal validates a <= b <= c <= d.
func NewTrapezoidal(a, b, c, d float64) (Trapezoidal, error) {
	if !allFinite(a, b, c, d) {
		return Trapezoidal{}, invalidModel("trapezoidal parameters must be finite")
	}
	if a > b || b > c || c > d {
		return Trapezoidal{}, invalidModel("trapezoidal parameters must satisfy a <= b <= c <= d, got [%v %v %v %v]", a, b, c, d)
	}
	return Trapezoidal{A: a, B: b, C: c, D: d}, nil
}

func (t Trapezoidal) Degree(x float64) float64 {
	switch {
	case x < t.A || x > t.D:
		return 0
	case x >= t.B && x <= t.C:
		return 1
	case x < t.B:
		return (x - t.A) / (t.B - t.A)
	default:
		return (t.D - x) / (t.D - t.C)
	}
}

func (t Trapezoidal) Kind() string      { return "trapezoidal" }
func (t Trapezoidal) Params() []float64 { return []float64{t.A, t.B, t.C, t.D} }

// Gaussian is exp(-(x-Mean)^2 / (2*Sigma^2)).
type Gaussian struct {
	Mean, Sigma float64
}

// NewGaussian validates sigma > 0.
func NewGaussian(mean, sigma float64) (Gaussian, error) {
	if !allFinite(mean, sigma) {
		return Gaussian{}, invalidModel("gaussian parameters must be finite")
	}
	if sigma <= 0 {
		return Gaussian{}, invalidModel("gaussian sigma must be positive, got %v", sigma)
	}
	return Gaussian{Mean: mean, Sigma: sigma}, nil
}

func (g Gaussian) Degree(x float64) float64 {
	d := x - g.Mean
	v := math.Exp(-(d * d) / (2 * g.Sigma * g.Sigma))
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func (g Gaussian) Kind() string      { return "gaussian" }
func (g Gaussian) Params() []float64 { return []float64{g.Mean, g.Sigma} }

// Sigmoid is 1 / (1 + exp(-Slope*(x-Center))).
type Sigmoid struct {
	Center, Slope float64
}

func NewSigmoid(center, slope float64) (Sigmoid, error) {
	if !allFinite(center, slope) {
		return Sigmoid{}, invalidModel("sigmoid parameters must be finite")
	}
	return Sigmoid{Center: center, Slope: slope}, nil
}

func (s Sigmoid) Degree(x float64) float64 {
	v := 1 / (1 + math.Exp(-s.Slope*(x-s.Center)))
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func (s Sigmoid) Kind() string      { return "sigmoid" }
func (s Sigmoid) Params() []float64 { return []float64{s.Center, s.Slope} }

// GeneralizedBell is 1 / (1 + |(x-C)/A|^(2B)).
type GeneralizedBell struct {
	A, B, C float64
}

func NewGeneralizedBell(a, b, c float64) (GeneralizedBell, error) {
	if !allFinite(a, b, c) {
		return GeneralizedBell{}, invalidModel("bell parameters must be finite")
	}
	if a == 0 {
		return GeneralizedBell{}, invalidModel("bell width must be non-zero")
	}
	return GeneralizedBell{A: a, B: b, C: c}, nil
}

func (g GeneralizedBell) Degree(x float64) float64 {
	v := 1 / (1 + math.Pow(math.Abs((x-g.C)/g.A), 2*g.B))
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func (g GeneralizedBell) Kind() string      { return "bell" }
func (g GeneralizedBell) Params() []float64 { return []float64{g.A, g.B, g.C} }

// Sample evaluates mf at every point of u.
func Sample(mf MembershipFunction, u Universe) []float64 {
	out := make([]float64, u.Len())
	for i := range out {
		out[i] = mf.Degree(u.At(i))
	}
	return out
}

func allFinite(xs ...float64) bool {
	for _, x := range xs {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
