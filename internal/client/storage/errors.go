package storage

import "errors"

// Common local store errors
var (
	// ErrRecordNotFound indicates that no record exists for (table, id)
	ErrRecordNotFound = errors.New("record not found")

	// ErrOperationNotFound indicates that no pending operation exists for (table, id)
	ErrOperationNotFound = errors.New("pending operation not found")

	// ErrCursorNotFound indicates that no cursor exists for (query id, table)
	ErrCursorNotFound = errors.New("pull cursor not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
