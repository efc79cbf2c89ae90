package core

// Method selects how an aggregated distribution collapses to one value.
type Method string

const (
	Centroid          Method = "centroid"
	Bisector          Method = "bisector"
	MeanOfMaximum     Method = "mom"
	SmallestOfMaximum Method = "som"
	LargestOfMaximum  Method = "lom"
)

func (m Method) valid() bool {
	switch m {
	case Centroid, Bisector, MeanOfMaximum, SmallestOfMaximum, LargestOfMaximum:
		return true
	}
	return false
}

// ParseMethod accepts the method names above; empty means Centroid.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return Centroid, nil
	}
	m := Method(s)
	if !m.valid() {
		return "", invalidModel("unknown defuzzification method %q", s)
	}
	return m, nil
}

// Defuzzify reduces mu, sampled over u, to a crisp value. Sums run in
// ascending sample order so results are reproducible bit for bit. An
// identically zero distribution yields ErrNoRuleFired.
func Defuzzify(m Method, u Universe, mu []float64) (float64, error) {
	if len(mu) != u.Len() {
		return 0, invalidModel("distribution has %d samples, universe has %d", len(mu), u.Len())
	}

	var total, peak float64
	for _, d := range mu {
		total += d
		if d > peak {
			peak = d
		}
	}
	if total == 0 {
		return 0, ErrNoRuleFired
	}

	switch m {
	case Centroid, "":
		var num float64
		for i, d := range mu {
			num += u.At(i) * d
		}
		return num / total, nil

	case Bisector:
		half := total / 2
		var acc float64
		for i, d := range mu {
			acc += d
			if acc >= half {
				return u.At(i), nil
			}
		}
		return u.Max(), nil

	case MeanOfMaximum, SmallestOfMaximum, LargestOfMaximum:
		first, last := -1, -1
		var sum float64
		var n int
		for i, d := range mu {
			if d == peak {
				if first < 0 {
					first = i
				}
				last = i
				sum += u.At(i)
				n++
			}
		}
		switch m {
		case SmallestOfMaximum:
			return u.At(first), nil
		case LargestOfMaximum:
			return u.At(last), nil
		default:
			return sum / float64(n), nil
		}
	}
	return 0, invalidModel("unknown defuzzification method %q", m)
}
