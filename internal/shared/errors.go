package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates the operation is illegal for the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotEligible indicates the target exists but fails a precondition.
	ErrNotEligible = errors.New("not eligible")
	// ErrForbidden indicates the actor lacks the permission for an operation.
	ErrForbidden = errors.New("forbidden")
)

// FieldError names one violated input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violated field of an input at once.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field is among the violations.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Violations accumulates field errors before any mutation is applied.
type Violations struct {
	fields []FieldError
}

// Add records a violation for field.
func (v *Violations) Add(field, format string, args ...any) {
	v.fields = append(v.fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge appends the fields of err when it is a ValidationError and reports
// whether it was one.
func (v *Violations) Merge(err error) bool {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	v.fields = append(v.fields, verr.Fields...)
	return true
}

// Err returns nil when nothing was recorded.
func (v *Violations) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// IsValidation reports whether err carries field violations.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
