// Package sync implements the offline synchronization core: local CRUD
// with durable operation logging, and the push, pull, and purge cycles
// that reconcile the local store with the remote table service.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/offlinekit/tablesync/internal/client/oplog"
	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/internal/taskrunner"
	"github.com/offlinekit/tablesync/internal/validation"
	"github.com/offlinekit/tablesync/pkg/api"
)

// Transport reaches the remote table service. *api.Client implements it;
// tests substitute stubs.
type Transport interface {
	// InsertRecord creates a record, returning it with server-assigned
	// version and updatedAt
	InsertRecord(ctx context.Context, table string, rec models.Record) (models.Record, error)

	// UpdateRecord updates a record using its version as If-Match
	UpdateRecord(ctx context.Context, table string, rec models.Record) (models.Record, error)

	// DeleteRecord deletes a record using version as If-Match
	DeleteRecord(ctx context.Context, table, id, version string) error

	// Query fetches one page; nextLink continues a previous page
	Query(ctx context.Context, q *query.Query, nextLink string) (*api.Page, error)
}

// Состояния жизненного цикла. Переход в stateInitialized происходит
// ровно один раз.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateInitialized
)

// Service is the sync context: the single entry point for local CRUD and
// for the push/pull/purge cycles. Local writes are serialized on one task
// runner, whole sync cycles on another; those two runners are the only
// mutual exclusion in the core.
type Service struct {
	logger    *slog.Logger
	transport Transport
	store     storage.Store
	oplog     *oplog.Manager

	// storeRunner упорядочивает insert/update/delete между собой;
	// syncRunner упорядочивает push/pull/purge между собой.
	storeRunner *taskrunner.Runner
	syncRunner  *taskrunner.Runner

	state atomic.Int32

	pusher *pusher
	puller *puller
	purger *purger
}

// NewService creates an uninitialized sync service.
func NewService(transport Transport, logger *slog.Logger) *Service {
	return &Service{
		logger:      logger,
		transport:   transport,
		oplog:       oplog.NewManager(logger),
		storeRunner: taskrunner.New(),
		syncRunner:  taskrunner.New(),
	}
}

// Initialize wires the service to its local store: the operation log is
// loaded and the managers are constructed. Exactly one call succeeds; all
// other operations fail with ErrNotInitialized until it completes.
func (s *Service) Initialize(ctx context.Context, store storage.Store) error {
	if store == nil {
		return &ValidationError{Field: "store", Err: errors.New("store must not be nil")}
	}
	if !s.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		return ErrAlreadyInitialized
	}

	err := s.storeRunner.Do(ctx, func(ctx context.Context) error {
		if err := s.oplog.Initialize(ctx, store); err != nil {
			return err
		}

		s.store = store
		s.pusher = &pusher{logger: s.logger, store: store, transport: s.transport}
		s.puller = &puller{logger: s.logger, store: store, transport: s.transport}
		s.purger = &purger{logger: s.logger, store: store}

		return nil
	})
	if err != nil {
		s.state.Store(stateUninitialized)
		return fmt.Errorf("failed to initialize sync service: %w", err)
	}

	s.state.Store(stateInitialized)
	s.logger.Info("sync service initialized")
	return nil
}

// Close stops both task runners. The store is owned by the caller and is
// not closed here.
func (s *Service) Close() error {
	s.storeRunner.Close()
	s.syncRunner.Close()
	return nil
}

func (s *Service) checkInitialized() error {
	if s.state.Load() != stateInitialized {
		return ErrNotInitialized
	}
	return nil
}

// Insert validates the record, assigns an id when absent, and writes the
// record together with its logging entry in one atomic batch. Fails with
// ErrRecordExists if a record with that id is already present.
func (s *Service) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &ValidationError{Field: "record", Err: errors.New("record must not be nil")}
	}

	out := rec.Clone()
	if out.ID() == "" {
		out[models.FieldID] = models.NewID()
	} else if err := validateID(out.ID()); err != nil {
		return nil, err
	}

	err := s.storeRunner.Do(ctx, func(ctx context.Context) error {
		_, err := s.store.Lookup(ctx, table, out.ID())
		if err == nil {
			return fmt.Errorf("%w: %s/%s", ErrRecordExists, table, out.ID())
		}
		if !errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("failed to check existing record: %w", err)
		}

		return s.writeWithLog(ctx, table, models.ActionInsert, out)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Update upserts the record with overwrite semantics: a missing record is
// not an error. The logging entry is co-written atomically.
func (s *Service) Update(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &ValidationError{Field: "record", Err: errors.New("record must not be nil")}
	}
	if err := validateID(rec.ID()); err != nil {
		return nil, err
	}

	out := rec.Clone()

	err := s.storeRunner.Do(ctx, func(ctx context.Context) error {
		return s.writeWithLog(ctx, table, models.ActionUpdate, out)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Delete removes the record locally and logs the deletion for push.
func (s *Service) Delete(ctx context.Context, table string, rec models.Record) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if err := validateTable(table); err != nil {
		return err
	}
	if rec == nil {
		return &ValidationError{Field: "record", Err: errors.New("record must not be nil")}
	}
	if err := validateID(rec.ID()); err != nil {
		return err
	}

	return s.storeRunner.Do(ctx, func(ctx context.Context) error {
		logOps, err := s.oplog.LoggingOperation(ctx, table, models.ActionDelete, rec)
		if err != nil {
			return err
		}

		batch := append([]storage.BatchOp{storage.DeleteRecord(table, rec.ID())}, logOps...)
		if err := s.store.ExecuteBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

// Lookup is a pure read-through to the store. It is not serialized
// against pending CRUD; callers needing read-your-own-writes must await
// their writes first. With suppressNotFound a miss returns (nil, nil).
func (s *Service) Lookup(ctx context.Context, table, id string, suppressNotFound bool) (models.Record, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	rec, err := s.store.Lookup(ctx, table, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		if suppressNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	return rec, nil
}

// Read is a pure read-through to the store using the query; no logging
// side effects, not serialized against pending CRUD.
func (s *Service) Read(ctx context.Context, q *query.Query) ([]models.Record, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	return s.store.Read(ctx, q)
}

// Push replays pending operations to the server on the sync-cycle runner.
// It never overlaps another push, pull, or purge on this service.
func (s *Service) Push(ctx context.Context, h Handler) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}

	return s.syncRunner.Do(ctx, func(ctx context.Context) error {
		return s.pusher.Push(ctx, h)
	})
}

// Pull fetches remote records into the local store on the sync-cycle
// runner. An empty queryID is a vanilla pull; otherwise the pull is
// incremental under the persisted cursor for (queryID, table).
func (s *Service) Pull(ctx context.Context, q *query.Query, queryID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if err := validateQuery(q); err != nil {
		return err
	}

	return s.syncRunner.Do(ctx, func(ctx context.Context) error {
		return s.puller.Pull(ctx, q, queryID)
	})
}

// Purge deletes local records matching q, plus the table's cursors. A
// regular purge refuses to run while the table has pending operations;
// a forced purge discards them.
func (s *Service) Purge(ctx context.Context, q *query.Query, force bool) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	if err := validateQuery(q); err != nil {
		return err
	}

	return s.syncRunner.Do(ctx, func(ctx context.Context) error {
		return s.purger.Purge(ctx, q, force)
	})
}

// PendingOperations returns the current operation log in push order.
func (s *Service) PendingOperations(ctx context.Context) ([]models.Operation, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.store.Operations(ctx)
}

// writeWithLog выполняет один атомарный батч: мутация данных плюс
// logging entry, вычисленная менеджером журнала.
func (s *Service) writeWithLog(ctx context.Context, table string, action models.Action, rec models.Record) error {
	logOps, err := s.oplog.LoggingOperation(ctx, table, action, rec)
	if err != nil {
		return err
	}

	batch := append([]storage.BatchOp{storage.UpsertRecord(table, rec)}, logOps...)
	if err := s.store.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

func validateTable(table string) error {
	if err := validation.ValidateTableName(table); err != nil {
		return &ValidationError{Field: "table name", Err: err}
	}
	return nil
}

func validateID(id string) error {
	if err := validation.ValidateRecordID(id); err != nil {
		return &ValidationError{Field: "record id", Err: err}
	}
	return nil
}

func validateQuery(q *query.Query) error {
	if q == nil {
		return &ValidationError{Field: "query", Err: errors.New("query must not be nil")}
	}
	return validateTable(q.Table)
}
