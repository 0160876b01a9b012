// Package oplog manages the durable log of pending operations: the record
// of every local mutation that has not yet been acknowledged by the server.
package oplog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
)

// Common operation log errors
var (
	// ErrNotInitialized indicates Initialize has not been called
	ErrNotInitialized = errors.New("operation log is not initialized")

	// ErrDeletePending indicates an insert or update against a record whose
	// local delete has not been pushed yet
	ErrDeletePending = errors.New("record id collides with an unsynced pending delete")
)

// Manager computes the logging entry for each local write. The entry is
// returned as batch operations for the caller to persist atomically
// together with the data mutation; the manager itself never writes.
//
// Инвариант журнала: не более одной операции на пару (table, id).
// Повторная локальная запись сливается с существующей операцией по
// правилам mergeActions.
type Manager struct {
	logger  *slog.Logger
	store   storage.Store
	nextSeq int64
}

// NewManager creates an uninitialized manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Initialize loads the log from the store and resumes the sequence counter
// past the highest persisted entry.
func (m *Manager) Initialize(ctx context.Context, store storage.Store) error {
	ops, err := store.Operations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load operation log: %w", err)
	}

	var maxSeq int64
	for _, op := range ops {
		if op.Seq > maxSeq {
			maxSeq = op.Seq
		}
	}

	m.store = store
	m.nextSeq = maxSeq + 1

	m.logger.Debug("operation log initialized", "pending", len(ops), "next_seq", m.nextSeq)
	return nil
}

// LoggingOperation computes the log entries to co-write with a local
// mutation of rec. A write that merges into an existing entry always
// rewrites it under a fresh Seq: push compares the Seq before retiring
// an acknowledged operation, and an unchanged value would make a write
// that landed mid-request invisible to that check.
func (m *Manager) LoggingOperation(ctx context.Context, table string, action models.Action, rec models.Record) ([]storage.BatchOp, error) {
	if m.store == nil {
		return nil, ErrNotInitialized
	}
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	id := rec.ID()
	if id == "" {
		return nil, fmt.Errorf("record has no id")
	}

	existing, err := m.store.OperationFor(ctx, table, id)
	if errors.Is(err, storage.ErrOperationNotFound) {
		op := &models.Operation{Table: table, RecordID: id, Action: action, Seq: m.next()}
		if action == models.ActionDelete {
			// Версия нужна для If-Match, когда сама запись уже удалена
			op.Version = rec.Version()
		}
		return []storage.BatchOp{storage.PutOperation(op)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending operation: %w", err)
	}

	return m.merge(table, id, existing, action, rec)
}

// merge применяет правила слияния новой мутации с существующей операцией.
// Каждый путь, сохраняющий операцию, выдает ей новый Seq.
func (m *Manager) merge(table, id string, existing *models.Operation, action models.Action, rec models.Record) ([]storage.BatchOp, error) {
	switch {
	case existing.Action == models.ActionInsert && action == models.ActionUpdate:
		// С точки зрения сервера запись все еще не создана
		op := *existing
		op.Seq = m.next()
		return []storage.BatchOp{storage.PutOperation(&op)}, nil

	case existing.Action == models.ActionInsert && action == models.ActionDelete:
		// Никогда не отправлялась - чистый no-op
		m.logger.Debug("pending insert collapsed by delete", "table", table, "id", id)
		return []storage.BatchOp{storage.DeleteOperation(table, id)}, nil

	case existing.Action == models.ActionUpdate && action == models.ActionUpdate:
		op := *existing
		op.Seq = m.next()
		return []storage.BatchOp{storage.PutOperation(&op)}, nil

	case existing.Action == models.ActionUpdate && action == models.ActionDelete:
		op := *existing
		op.Action = models.ActionDelete
		op.Version = rec.Version()
		op.Seq = m.next()
		return []storage.BatchOp{storage.PutOperation(&op)}, nil

	case existing.Action == models.ActionDelete && action == models.ActionDelete:
		op := *existing
		op.Seq = m.next()
		return []storage.BatchOp{storage.PutOperation(&op)}, nil

	case existing.Action == models.ActionDelete:
		// insert или update поверх неотправленного delete
		return nil, fmt.Errorf("%w: %s/%s", ErrDeletePending, table, id)

	default:
		// Повторный insert при живой pending операции: запись существует
		// локально, слой выше должен был отказать раньше
		return nil, fmt.Errorf("pending %s operation already exists for %s/%s", existing.Action, table, id)
	}
}

// PendingCount returns the number of operations awaiting push.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, ErrNotInitialized
	}

	ops, err := m.store.Operations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load operation log: %w", err)
	}
	return len(ops), nil
}

func (m *Manager) next() int64 {
	seq := m.nextSeq
	m.nextSeq++
	return seq
}
