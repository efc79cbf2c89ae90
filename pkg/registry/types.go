package registry

// Universe describes an evenly sampled numeric domain.
type Universe struct {
	Min  float64 `json:"min" yaml:"min" toml:"min"`
	Max  float64 `json:"max" yaml:"max" toml:"max"`
	Step float64 `json:"step" yaml:"step" toml:"step"`
}

// SetConfig describes one fuzzy set of a variable
type SetConfig struct {
	Name   string    `json:"name" yaml:"name" toml:"name"`
	Shape  string    `json:"shape" yaml:"shape" toml:"shape"` // triangular|trapezoidal|gaussian|sigmoid|bell
	Params []float64 `json:"params" yaml:"params" toml:"params"`
}

// VariableConfig describes a linguistic variable
type VariableConfig struct {
	Name     string      `json:"name" yaml:"name" toml:"name"`
	Role     string      `json:"role" yaml:"role" toml:"role"` // antecedent|consequent
	Universe Universe    `json:"universe" yaml:"universe" toml:"universe"`
	Sets     []SetConfig `json:"sets" yaml:"sets" toml:"sets"`
}

// Term references one set of one variable
type Term struct {
	Variable string `json:"variable" yaml:"variable" toml:"variable"`
	Set      string `json:"set" yaml:"set" toml:"set"`
}

// Expression is an antecedent tree node. Exactly one field is set.
type Expression struct {
	Is  *Term        `json:"is,omitempty" yaml:"is,omitempty" toml:"is,omitempty"`
	And []Expression `json:"and,omitempty" yaml:"and,omitempty" toml:"and,omitempty"`
	Or  []Expression `json:"or,omitempty" yaml:"or,omitempty" toml:"or,omitempty"`
	Not *Expression  `json:"not,omitempty" yaml:"not,omitempty" toml:"not,omitempty"`
}

// RuleConfig describes one rule
type RuleConfig struct {
	Label       string     `json:"label" yaml:"label" toml:"label"`
	If          Expression `json:"if" yaml:"if" toml:"if"`
	Then        []Term     `json:"then" yaml:"then" toml:"then"`
	Weight      float64    `json:"weight,omitempty" yaml:"weight,omitempty" toml:"weight,omitempty"`                // (0, 1], 0 means 1
	Conjunction string     `json:"conjunction,omitempty" yaml:"conjunction,omitempty" toml:"conjunction,omitempty"` // min|product
	Activation  string     `json:"activation,omitempty" yaml:"activation,omitempty" toml:"activation,omitempty"`    // clip|scale
	Disabled    bool       `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// Definition is a complete, declarative inference model
type Definition struct {
	Name        string           `json:"name" yaml:"name" toml:"name"`
	Defuzzifier string           `json:"defuzzifier,omitempty" yaml:"defuzzifier,omitempty" toml:"defuzzifier,omitempty"`
	Variables   []VariableConfig `json:"variables" yaml:"variables" toml:"variables"`
	Rules       []RuleConfig     `json:"rules" yaml:"rules" toml:"rules"`
}

// GetVariable returns a variable configuration by name
func (d *Definition) GetVariable(name string) *VariableConfig {
	for i := range d.Variables {
		if d.Variables[i].Name == name {
			return &d.Variables[i]
		}
	}
	return nil
}

// GetRule returns a rule configuration by label
func (d *Definition) GetRule(label string) *RuleConfig {
	for i := range d.Rules {
		if d.Rules[i].Label == label {
			return &d.Rules[i]
		}
	}
	return nil
}

// GetVariablesByRole returns all variables with a specific role
func (d *Definition) GetVariablesByRole(role string) []VariableConfig {
	var vars []VariableConfig
	for _, v := range d.Variables {
		if v.Role == role {
			vars = append(vars, v)
		}
	}
	return vars
}

// ActiveRules returns the rules that take part in inference
func (d *Definition) ActiveRules() []RuleConfig {
	var rules []RuleConfig
	for _, r := range d.Rules {
		if !r.Disabled {
			rules = append(rules, r)
		}
	}
	return rules
}
