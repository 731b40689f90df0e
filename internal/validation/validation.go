// Package validation collects field violations of a rejected request.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Violation describes one invalid field.
type Violation struct {
	Field       string
	Description string
}

// Error is returned when a request is rejected before any state changes.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Field+": "+v.Description)
	}
	return "validation failed: " + strings.Join(msgs, ", ")
}

// Add records a violation of field.
func (e *Error) Add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Description: fmt.Sprintf(format, args...)})
}

// Err returns e when it holds violations and nil otherwise.
func (e *Error) Err() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// As returns the validation error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
