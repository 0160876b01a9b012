package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
)

// Operations returns all pending operations ordered by Seq ascending
func (s *Storage) Operations(ctx context.Context) ([]models.Operation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []models.Operation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOps)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var op models.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			ops = append(ops, op)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get operations: %w", err)
	}

	// Ключи отсортированы по (table, id); журналу нужен порядок Seq
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })

	return ops, nil
}

// OperationFor retrieves the pending operation for (table, id)
func (s *Storage) OperationFor(ctx context.Context, table, id string) (*models.Operation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var op *models.Operation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOps)
		if bucket == nil {
			return storage.ErrOperationNotFound
		}

		data := bucket.Get(opKey(table, id))
		if data == nil {
			return storage.ErrOperationNotFound
		}

		op = &models.Operation{}
		if err := json.Unmarshal(data, op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return op, nil
}

func putOperation(tx *bbolt.Tx, op *models.Operation) error {
	if op == nil {
		return fmt.Errorf("put operation requires an operation")
	}

	bucket := tx.Bucket(bucketOps)
	if bucket == nil {
		return fmt.Errorf("operations bucket not found")
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	if err := bucket.Put(opKey(op.Table, op.RecordID), data); err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}

	return nil
}

func deleteOperation(tx *bbolt.Tx, table, id string) error {
	bucket := tx.Bucket(bucketOps)
	if bucket == nil {
		return nil
	}

	if err := bucket.Delete(opKey(table, id)); err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}

	return nil
}
