package sync

import (
	"errors"
	"fmt"
)

// Common sync service errors
var (
	// ErrNotInitialized indicates an operation was invoked before Initialize completed
	ErrNotInitialized = errors.New("sync service is not initialized")

	// ErrAlreadyInitialized indicates Initialize was called twice
	ErrAlreadyInitialized = errors.New("sync service is already initialized")

	// ErrRecordExists indicates an insert collided with an existing record
	ErrRecordExists = errors.New("record already exists")

	// ErrRecordNotFound indicates a lookup miss
	ErrRecordNotFound = errors.New("record not found")

	// ErrPurgeConflict indicates a regular purge was blocked by pending operations
	ErrPurgeConflict = errors.New("purge blocked by pending operations")
)

// ValidationError описывает некорректный аргумент, обнаруженный до
// какого-либо I/O.
type ValidationError struct {
	Field string
	Err   error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying validation failure
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
