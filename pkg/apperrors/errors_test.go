package apperrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	v := fmt.Errorf("process payment: %w", Validation("amount", "must be positive, got %s", "-5"))
	assert.True(t, IsValidation(v))
	assert.False(t, IsConsistency(v))
	assert.Equal(t, "process payment: validation failed on amount: must be positive, got -5", v.Error())

	c := fmt.Errorf("reconcile: %w", Consistency("schedule_sum", "%s != %s", "1.00", "2.00"))
	assert.True(t, IsConsistency(c))

	assert.True(t, IsConflict(fmt.Errorf("save loan: %w", ErrConcurrencyConflict)))
	assert.True(t, IsNotFound(fmt.Errorf("loan x: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrConcurrencyConflict))
}

func TestValidationWithoutField(t *testing.T) {
	err := &ValidationError{Reason: "schedule already built"}
	assert.Equal(t, "validation failed: schedule already built", err.Error())
}
