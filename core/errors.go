package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by model construction and evaluation.
var (
	// ErrInvalidInput is returned when a crisp input is NaN or infinite.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingInput is returned when an antecedent has no bound value.
	ErrMissingInput = errors.New("missing input")

	// ErrUnboundVariable is returned at build time when a rule references
	// a variable or set that the model does not declare.
	ErrUnboundVariable = errors.New("unbound variable")

	// ErrNoRuleFired marks a consequent whose aggregated distribution is
	// identically zero, so no crisp value exists.
	ErrNoRuleFired = errors.New("no rule fired")

	// ErrInvalidModel covers structural problems other than unbound references.
	ErrInvalidModel = errors.New("invalid model")
)

// InputError describes a rejected crisp input.
type InputError struct {
	Variable string
	Value    float64
	Kind     error // ErrInvalidInput or ErrMissingInput
}

func (e *InputError) Error() string {
	if e.Kind == ErrMissingInput {
		return fmt.Sprintf("%s: %q", e.Kind, e.Variable)
	}
	return fmt.Sprintf("%s: %q = %v", e.Kind, e.Variable, e.Value)
}

func (e *InputError) Unwrap() error { return e.Kind }

// BindingError describes a rule leaf or consequent assignment that does not
// resolve against the model.
type BindingError struct {
	Rule     string
	Variable string
	Set      string
	Reason   string
}

func (e *BindingError) Error() string {
	msg := fmt.Sprintf("%s: rule %q references %s", ErrUnboundVariable, e.Rule, e.Variable)
	if e.Set != "" {
		msg += "[" + e.Set + "]"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *BindingError) Unwrap() error { return ErrUnboundVariable }

// NoRuleFiredError records which consequent produced an empty aggregate.
type NoRuleFiredError struct {
	Variable string
}

func (e *NoRuleFiredError) Error() string {
	return fmt.Sprintf("%s for %q", ErrNoRuleFired, e.Variable)
}

func (e *NoRuleFiredError) Unwrap() error { return ErrNoRuleFired }

func invalidModel(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidModel, fmt.Sprintf(format, args...))
}
