// Package storage defines the authoritative record store behind the
// table service. The sqlite subpackage provides the implementation.
package storage

import (
	"context"

	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// RecordStore хранит авторитетное состояние таблиц. Версию и updatedAt
// назначает хранилище; клиентские значения этих полей игнорируются.
type RecordStore interface {
	// Insert creates a record, assigning version and updatedAt.
	// Returns ErrRecordExists if a live record with that id exists.
	Insert(ctx context.Context, table string, rec models.Record) (models.Record, error)

	// Update replaces a record if ifMatch equals its current version.
	// An empty ifMatch skips the version check. Returns ErrRecordNotFound
	// or *VersionMismatchError.
	Update(ctx context.Context, table, id, ifMatch string, rec models.Record) (models.Record, error)

	// Delete soft-deletes a record under the same If-Match discipline.
	Delete(ctx context.Context, table, id, ifMatch string) error

	// Get retrieves a live record by id.
	Get(ctx context.Context, table, id string) (models.Record, error)

	// Query returns live records matching q starting at offset, ordered
	// by updatedAt ascending when requested, at most limit rows.
	Query(ctx context.Context, q *query.Query, offset, limit int) ([]models.Record, error)
}
