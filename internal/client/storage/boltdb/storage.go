// Package boltdb provides the bbolt-backed Store implementation. This is
// the default durable store for client deployments.
package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/offlinekit/tablesync/internal/client/storage"
)

var (
	// BoltDB bucket names
	bucketData    = []byte("data")       // nested: one sub-bucket per table
	bucketOps     = []byte("operations") // key: table/id
	bucketCursors = []byte("cursors")    // key: queryID/table
)

// Storage represents BoltDB storage implementation for the sync core
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketOps, bucketCursors} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// ExecuteBatch применяет все элементы батча в одной транзакции bbolt.
// Любая ошибка откатывает транзакцию целиком.
func (s *Storage) ExecuteBatch(ctx context.Context, batch []storage.BatchOp) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for i, op := range batch {
			var err error
			switch op.Kind {
			case storage.KindUpsertRecord:
				err = putRecord(tx, op)
			case storage.KindDeleteRecord:
				err = deleteRecord(tx, op.Table, op.ID)
			case storage.KindPutOperation:
				err = putOperation(tx, op.Op)
			case storage.KindDeleteOperation:
				err = deleteOperation(tx, op.Table, op.ID)
			case storage.KindPutCursor:
				err = putCursor(tx, op.Cursor)
			case storage.KindDeleteCursor:
				err = deleteCursor(tx, op.ID, op.Table)
			default:
				err = fmt.Errorf("unknown batch kind %d", op.Kind)
			}
			if err != nil {
				return fmt.Errorf("batch entry %d: %w", i, err)
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("batch transaction failed: %w", err)
	}

	return nil
}

// opKey строит ключ для журналов операций и курсоров.
// Table names cannot contain '/', so the key is unambiguous.
func opKey(a, b string) []byte {
	return []byte(a + "/" + b)
}
