// Package validate holds the named form rules applied before any provider call.
//
// Rules return a structured *Failure (field + reason) instead of a display
// string. The action handlers decide what text the user sees, so the rules
// and the wording can be tested independently.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sakif/framez/internal/apperror"
)

// Reason identifies which rule failed.
type Reason string

const (
	ReasonRequired Reason = "required"
	ReasonTooShort Reason = "too_short"
	ReasonMismatch Reason = "mismatch"
)

// Failure is the structured result of a failed rule. It matches
// apperror.ErrValidation via errors.Is.
type Failure struct {
	Field  string
	Reason Reason
	Min    int // only for ReasonTooShort
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonTooShort:
		return fmt.Sprintf("%s must be at least %d characters", f.Field, f.Min)
	case ReasonMismatch:
		return fmt.Sprintf("%s does not match", f.Field)
	default:
		return fmt.Sprintf("%s is required", f.Field)
	}
}

func (f *Failure) Unwrap() error {
	return apperror.ErrValidation
}

// Rule evaluates to nil when satisfied.
type Rule func() *Failure

// Required fails when value is empty or only whitespace.
func Required(field, value string) Rule {
	return func() *Failure {
		if strings.TrimSpace(value) == "" {
			return &Failure{Field: field, Reason: ReasonRequired}
		}
		return nil
	}
}

// NotEmpty fails only on the empty string. Secrets use it: whitespace is a
// legal password character.
func NotEmpty(field, value string) Rule {
	return func() *Failure {
		if value == "" {
			return &Failure{Field: field, Reason: ReasonRequired}
		}
		return nil
	}
}

// MinLength fails when value has fewer than n characters (runes, not bytes).
func MinLength(field, value string, n int) Rule {
	return func() *Failure {
		if utf8.RuneCountInString(value) < n {
			return &Failure{Field: field, Reason: ReasonTooShort, Min: n}
		}
		return nil
	}
}

// Equal fails when the two values differ. field names the second (confirming) input.
func Equal(field, want, got string) Rule {
	return func() *Failure {
		if want != got {
			return &Failure{Field: field, Reason: ReasonMismatch}
		}
		return nil
	}
}

// Check runs rules in order and returns the first failure, or nil.
func Check(rules ...Rule) error {
	for _, rule := range rules {
		if f := rule(); f != nil {
			return f
		}
	}
	return nil
}
