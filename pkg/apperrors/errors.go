// Package apperrors holds the error taxonomy shared by the engine and its adapters.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a product, loan or transaction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict is returned when a loan lock could not be acquired
	// or a stale version was detected on save. Callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError reports a caller mistake tied to a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError with a formatted reason.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConsistencyError reports a broken ledger invariant. It should never occur
// under correct use and aborts the operation without committing.
type ConsistencyError struct {
	Check  string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %s failed: %s", e.Check, e.Detail)
}

// Consistency builds a ConsistencyError with a formatted detail.
func Consistency(check, format string, args ...any) error {
	return &ConsistencyError{Check: check, Detail: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConsistency(err error) bool {
	var c *ConsistencyError
	return errors.As(err, &c)
}

func IsConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
