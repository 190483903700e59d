// Package apperr defines the error taxonomy shared by the certificate service.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound marks a missing template, page, element, issue or file.
	ErrNotFound = errors.New("not found")
	// ErrPermission marks a failed capability check.
	ErrPermission = errors.New("permission denied")
	// ErrConflict marks a storage uniqueness conflict that could not be resolved.
	ErrConflict = errors.New("conflict")
)

// NotFound returns an error wrapping ErrNotFound, e.g. "template not found".
func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

// Forbidden returns an error wrapping ErrPermission for the given action.
func Forbidden(action string) error {
	return fmt.Errorf("%w: %s", ErrPermission, action)
}

// ValidationError carries per-field messages for bad or missing input.
type ValidationError struct {
	Fields map[string]string
}

// Invalid creates a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a message for a field, keeping the first message per field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
