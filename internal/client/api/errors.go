package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/offlinekit/tablesync/internal/models"
)

// Error представляет ошибку, возвращенную сервером таблиц.
// Для конфликтов версии ServerRecord содержит текущее состояние записи
// на сервере.
type Error struct {
	StatusCode   int
	Code         string
	Message      string
	ServerRecord models.Record
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d %s)", e.StatusCode, e.Code)
}

// Conflict reports whether the error is a version conflict: the server's
// record disagrees with the version the client pushed.
func (e *Error) Conflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
}

// NotFound reports whether the server has no record for the request.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// AsError unwraps a transport error, or returns nil if err is not one.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsConflict reports whether err is a version conflict from the server.
func IsConflict(err error) bool {
	apiErr := AsError(err)
	return apiErr != nil && apiErr.Conflict()
}
