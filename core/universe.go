package core

import "math"

// Universe is an immutable, evenly spaced sampling of [lo, hi].
type Universe struct {
	points []float64
	step   float64
}

// NewUniverse samples lo, lo+step, ... up to and including hi when hi lies on
// the grid. At least two points are required.
func NewUniverse(lo, hi, step float64) (Universe, error) {
	if !isFinite(lo) || !isFinite(hi) || !isFinite(step) {
		return Universe{}, invalidModel("universe bounds must be finite")
	}
	if step <= 0 {
		return Universe{}, invalidModel("universe step must be positive, got %v", step)
	}
	if hi <= lo {
		return Universe{}, invalidModel("universe upper bound %v must exceed lower bound %v", hi, lo)
	}

	// tolerate accumulated rounding at the upper edge
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	if n < 2 {
		return Universe{}, invalidModel("universe [%v, %v] step %v has fewer than 2 points", lo, hi, step)
	}

	points := make([]float64, n)
	for i := range points {
		points[i] = lo + float64(i)*step
	}
	return Universe{points: points, step: step}, nil
}

// MustUniverse is NewUniverse for statically known bounds.
func MustUniverse(lo, hi, step float64) Universe {
	u, err := NewUniverse(lo, hi, step)
	if err != nil {
		panic(err)
	}
	return u
}

func (u Universe) Len() int                { return len(u.points) }
func (u Universe) At(i int) float64        { return u.points[i] }
func (u Universe) Min() float64            { return u.points[0] }
func (u Universe) Max() float64            { return u.points[len(u.points)-1] }
func (u Universe) Step() float64           { return u.step }
func (u Universe) IsZero() bool            { return len(u.points) == 0 }
func (u Universe) Contains(x float64) bool { return x >= u.Min() && x <= u.Max() }

// Points returns a copy of the sample points.
func (u Universe) Points() []float64 {
	out := make([]float64, len(u.points))
	copy(out, u.points)
	return out
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
