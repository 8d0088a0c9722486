package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist within the
	// requesting session's scope.
	ErrNotFound = errors.New("entity not found")

	// ErrCrossSession is returned when an operation references an entity
	// that exists but belongs to a different session.
	ErrCrossSession = errors.New("entity belongs to a different session")

	// ErrWouldCreateCycle is returned when a re-parent would make an agent
	// its own ancestor.
	ErrWouldCreateCycle = errors.New("operation would create a cycle in the agent hierarchy")

	// ErrRunAlreadyStarted is returned when a run is started twice.
	ErrRunAlreadyStarted = errors.New("run has already been started")

	// ErrRunFinished is returned when a status update targets a run in a
	// terminal state.
	ErrRunFinished = errors.New("run is already in a terminal state")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
