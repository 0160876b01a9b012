// Package storage defines the pluggable local store consumed by the sync
// core, and the batch entries the core co-writes atomically. Concrete
// engines live in the boltdb, sqlite, and memory subpackages.
package storage

import (
	"context"

	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Store определяет интерфейс локального хранилища для sync-ядра.
// Реализация обязана выполнять ExecuteBatch атомарно: либо применяются все
// элементы батча, либо ни один.
type Store interface {
	// Lookup retrieves a record by id.
	// Returns ErrRecordNotFound if no record exists.
	Lookup(ctx context.Context, table, id string) (models.Record, error)

	// Read returns all records of q.Table matching q.
	Read(ctx context.Context, q *query.Query) ([]models.Record, error)

	// ExecuteBatch applies all entries atomically, in order.
	ExecuteBatch(ctx context.Context, batch []BatchOp) error

	// Operations returns all pending operations ordered by Seq ascending.
	Operations(ctx context.Context) ([]models.Operation, error)

	// OperationFor retrieves the pending operation for (table, id).
	// Returns ErrOperationNotFound if none exists.
	OperationFor(ctx context.Context, table, id string) (*models.Operation, error)

	// Cursor retrieves the incremental pull cursor for (queryID, table).
	// Returns ErrCursorNotFound if none exists.
	Cursor(ctx context.Context, queryID, table string) (*models.Cursor, error)

	// CursorsForTable returns every cursor scoped to the table.
	CursorsForTable(ctx context.Context, table string) ([]models.Cursor, error)

	// Close releases the underlying engine.
	Close() error
}

// BatchKind описывает тип элемента батча.
type BatchKind int

const (
	KindUpsertRecord BatchKind = iota + 1
	KindDeleteRecord
	KindPutOperation
	KindDeleteOperation
	KindPutCursor
	KindDeleteCursor
)

// BatchOp представляет один элемент атомарного батча.
// Use the constructors below; a zero BatchOp is invalid.
type BatchOp struct {
	Kind   BatchKind
	Table  string
	ID     string // record id, or query id for cursor deletes
	Record models.Record
	Op     *models.Operation
	Cursor *models.Cursor
}

// UpsertRecord writes the record under (table, record.ID), replacing any
// existing value.
func UpsertRecord(table string, rec models.Record) BatchOp {
	return BatchOp{Kind: KindUpsertRecord, Table: table, ID: rec.ID(), Record: rec}
}

// DeleteRecord removes the record for (table, id). Deleting a missing
// record is a no-op, not an error.
func DeleteRecord(table, id string) BatchOp {
	return BatchOp{Kind: KindDeleteRecord, Table: table, ID: id}
}

// PutOperation writes the pending operation under (op.Table, op.RecordID),
// replacing any existing entry for that record.
func PutOperation(op *models.Operation) BatchOp {
	return BatchOp{Kind: KindPutOperation, Table: op.Table, ID: op.RecordID, Op: op}
}

// DeleteOperation removes the pending operation for (table, id).
func DeleteOperation(table, id string) BatchOp {
	return BatchOp{Kind: KindDeleteOperation, Table: table, ID: id}
}

// PutCursor writes the cursor under (cursor.QueryID, cursor.Table).
func PutCursor(c *models.Cursor) BatchOp {
	return BatchOp{Kind: KindPutCursor, Table: c.Table, ID: c.QueryID, Cursor: c}
}

// DeleteCursor removes the cursor for (queryID, table).
func DeleteCursor(queryID, table string) BatchOp {
	return BatchOp{Kind: KindDeleteCursor, Table: table, ID: queryID}
}
