package grading

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRubric is returned when a rubric cannot be scored at all, such
// as a criterion whose min and max scores are equal.
var ErrMalformedRubric = errors.New("malformed rubric")

type MalformedRubricError struct {
	SectionID  string
	CriteriaID string
	Reason     string
}

func (e *MalformedRubricError) Error() string {
	var b strings.Builder
	b.WriteString("malformed rubric")
	if e.SectionID != "" {
		fmt.Fprintf(&b, ": section %q", e.SectionID)
	}
	if e.CriteriaID != "" {
		fmt.Fprintf(&b, ": criterion %q", e.CriteriaID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *MalformedRubricError) Is(target error) bool { return target == ErrMalformedRubric }

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return "validation failed"
	}
	return err.Err.Error()
}

func (err *ValidationError) Unwrap() error { return err.Err }

var (
	errInvalidRubric  = errors.New("invalid rubric")
	errInvalidEntries = errors.New("invalid score entries")
)
