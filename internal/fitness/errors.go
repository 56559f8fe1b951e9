package fitness

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound - a record (profile, workouts, meal plan) is absent; callers treat it as fresh-start state
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput - caller input has the wrong shape (e.g. negative sets); it is never corrected silently
	ErrInvalidInput = errors.New("invalid input")
	// ErrSerialization - a persisted value could not be decoded
	ErrSerialization = errors.New("serialization error")
)

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (fe FieldError) String() string {
	if fe.Param == "" {
		return fmt.Sprintf("%s: %s", fe.Field, fe.Rule)
	}
	return fmt.Sprintf("%s: %s=%s", fe.Field, fe.Rule, fe.Param)
}

// ValidationError lists the fields that failed validation.
// errors.Is(err, ErrInvalidInput) holds for it.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalidInput(field, rule string) error {
	return &ValidationError{
		Fields: []FieldError{{Field: field, Rule: rule}},
	}
}
