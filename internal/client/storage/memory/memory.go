// Package memory provides an in-memory Store implementation. It backs
// tests and short-lived contexts where durability does not matter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Store хранит записи, операции и курсоры в памяти.
// Safe for concurrent use; the sync core additionally serializes writers.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]models.Record // table -> id -> record
	ops     map[string]models.Operation         // table/id -> operation
	cursors map[string]models.Cursor            // queryID/table -> cursor
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]map[string]models.Record),
		ops:     make(map[string]models.Operation),
		cursors: make(map[string]models.Cursor),
	}
}

func key(a, b string) string {
	return a + "/" + b
}

// Lookup retrieves a record by id.
func (s *Store) Lookup(ctx context.Context, table, id string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	rec, ok := s.records[table][id]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Read returns all records of q.Table matching q.
func (s *Store) Read(ctx context.Context, q *query.Query) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	var out []models.Record
	for _, rec := range s.records[q.Table] {
		if q.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}

	if q.OrderByUpdatedAt {
		sort.Slice(out, func(i, j int) bool {
			return out[i].UpdatedAt() < out[j].UpdatedAt()
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	return out, nil
}

// ExecuteBatch applies all entries atomically. Entries are validated
// before any mutation so a malformed batch changes nothing.
func (s *Store) ExecuteBatch(ctx context.Context, batch []storage.BatchOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	// Сначала проверяем весь батч, потом применяем
	for i, op := range batch {
		switch op.Kind {
		case storage.KindUpsertRecord:
			if op.Record == nil || op.Record.ID() == "" {
				return fmt.Errorf("batch entry %d: upsert requires a record with an id", i)
			}
		case storage.KindPutOperation:
			if op.Op == nil {
				return fmt.Errorf("batch entry %d: put operation requires an operation", i)
			}
		case storage.KindPutCursor:
			if op.Cursor == nil {
				return fmt.Errorf("batch entry %d: put cursor requires a cursor", i)
			}
		case storage.KindDeleteRecord, storage.KindDeleteOperation, storage.KindDeleteCursor:
		default:
			return fmt.Errorf("batch entry %d: unknown kind %d", i, op.Kind)
		}
	}

	for _, op := range batch {
		switch op.Kind {
		case storage.KindUpsertRecord:
			if s.records[op.Table] == nil {
				s.records[op.Table] = make(map[string]models.Record)
			}
			s.records[op.Table][op.Record.ID()] = op.Record.Clone()
		case storage.KindDeleteRecord:
			delete(s.records[op.Table], op.ID)
		case storage.KindPutOperation:
			s.ops[key(op.Op.Table, op.Op.RecordID)] = *op.Op
		case storage.KindDeleteOperation:
			delete(s.ops, key(op.Table, op.ID))
		case storage.KindPutCursor:
			s.cursors[key(op.Cursor.QueryID, op.Cursor.Table)] = *op.Cursor
		case storage.KindDeleteCursor:
			delete(s.cursors, key(op.ID, op.Table))
		}
	}

	return nil
}

// Operations returns all pending operations ordered by Seq ascending.
func (s *Store) Operations(ctx context.Context) ([]models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	out := make([]models.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })

	return out, nil
}

// OperationFor retrieves the pending operation for (table, id).
func (s *Store) OperationFor(ctx context.Context, table, id string) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	op, ok := s.ops[key(table, id)]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	return &op, nil
}

// Cursor retrieves the incremental pull cursor for (queryID, table).
func (s *Store) Cursor(ctx context.Context, queryID, table string) (*models.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	c, ok := s.cursors[key(queryID, table)]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	return &c, nil
}

// CursorsForTable returns every cursor scoped to the table.
func (s *Store) CursorsForTable(ctx context.Context, table string) ([]models.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	var out []models.Cursor
	for _, c := range s.cursors {
		if c.Table == table {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })

	return out, nil
}

// Close marks the store closed; later calls fail with ErrStorageClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
