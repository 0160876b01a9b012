package storage

import "errors"

// Sentinel errors returned by record storage implementations
var (
	// ErrRecordNotFound indicates the record does not exist or is deleted
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists indicates an insert collided with a live record
	ErrRecordExists = errors.New("record already exists")
)

// VersionMismatchError отклоняет запись с устаревшим If-Match.
// Current содержит актуальное состояние записи, чтобы клиент мог
// разрешить конфликт без дополнительного запроса.
type VersionMismatchError struct {
	Current map[string]any
}

// Error implements the error interface
func (e *VersionMismatchError) Error() string {
	return "record version mismatch"
}

// IsVersionMismatch unwraps a version conflict, or returns nil.
func IsVersionMismatch(err error) *VersionMismatchError {
	var vm *VersionMismatchError
	if errors.As(err, &vm) {
		return vm
	}
	return nil
}
