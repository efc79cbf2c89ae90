package core

// Role distinguishes inputs from outputs.
type Role int

const (
	Antecedent Role = iota
	Consequent
)

func (r Role) String() string {
	switch r {
	case Antecedent:
		return "antecedent"
	case Consequent:
		return "consequent"
	default:
		return "unknown"
	}
}

// FuzzySet is a named membership function scoped to one variable.
type FuzzySet struct {
	Name string
	MF   MembershipFunction
}

// Variable is a linguistic variable: a named universe partitioned into sets.
// Sets keep their declaration order.
type Variable struct {
	name     string
	role     Role
	universe Universe
	sets     []FuzzySet
	index    map[string]int
}

// NewVariable builds a variable. Set names must be unique and non-empty.
func NewVariable(name string, role Role, u Universe, sets ...FuzzySet) (*Variable, error) {
	if name == "" {
		return nil, invalidModel("variable name must not be empty")
	}
	if u.IsZero() {
		return nil, invalidModel("variable %q has no universe", name)
	}
	if len(sets) == 0 {
		return nil, invalidModel("variable %q declares no sets", name)
	}

	v := &Variable{
		name:     name,
		role:     role,
		universe: u,
		sets:     make([]FuzzySet, 0, len(sets)),
		index:    make(map[string]int, len(sets)),
	}
	for _, s := range sets {
		if s.Name == "" {
			return nil, invalidModel("variable %q has a set with an empty name", name)
		}
		if s.MF == nil {
			return nil, invalidModel("set %s[%s] has no membership function", name, s.Name)
		}
		if _, dup := v.index[s.Name]; dup {
			return nil, invalidModel("variable %q declares set %q twice", name, s.Name)
		}
		v.index[s.Name] = len(v.sets)
		v.sets = append(v.sets, s)
	}
	return v, nil
}

func (v *Variable) Name() string       { return v.name }
func (v *Variable) Role() Role         { return v.role }
func (v *Variable) Universe() Universe { return v.universe }
func (v *Variable) NumSets() int       { return len(v.sets) }
func (v *Variable) Set(i int) FuzzySet { return v.sets[i] }

// SetIndex returns the handle of the named set.
func (v *Variable) SetIndex(name string) (int, bool) {
	i, ok := v.index[name]
	return i, ok
}

// SetNames lists set names in declaration order.
func (v *Variable) SetNames() []string {
	names := make([]string, len(v.sets))
	for i, s := range v.sets {
		names[i] = s.Name
	}
	return names
}

// Fuzzify returns the degree of x in every set, in declaration order.
func (v *Variable) Fuzzify(x float64) []float64 {
	out := make([]float64, len(v.sets))
	for i, s := range v.sets {
		out[i] = s.MF.Degree(x)
	}
	return out
}

// Classify names the set with the highest membership at x. Ties go to the
// set declared first.
func (v *Variable) Classify(x float64) string {
	best, bestDegree := "", -1.0
	for _, s := range v.sets {
		if degree := s.MF.Degree(x); degree > bestDegree {
			best, bestDegree = s.Name, degree
		}
	}
	return best
}
