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

// Cursor retrieves the incremental pull cursor for (queryID, table)
func (s *Storage) Cursor(ctx context.Context, queryID, table string) (*models.Cursor, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var cur *models.Cursor

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCursors)
		if bucket == nil {
			return storage.ErrCursorNotFound
		}

		data := bucket.Get(opKey(queryID, table))
		if data == nil {
			return storage.ErrCursorNotFound
		}

		cur = &models.Cursor{}
		if err := json.Unmarshal(data, cur); err != nil {
			return fmt.Errorf("failed to unmarshal cursor: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return cur, nil
}

// CursorsForTable returns every cursor scoped to the table
func (s *Storage) CursorsForTable(ctx context.Context, table string) ([]models.Cursor, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var cursors []models.Cursor

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCursors)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var cur models.Cursor
			if err := json.Unmarshal(v, &cur); err != nil {
				return fmt.Errorf("failed to unmarshal cursor: %w", err)
			}
			if cur.Table == table {
				cursors = append(cursors, cur)
			}
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get cursors: %w", err)
	}

	sort.Slice(cursors, func(i, j int) bool { return cursors[i].QueryID < cursors[j].QueryID })

	return cursors, nil
}

func putCursor(tx *bbolt.Tx, cur *models.Cursor) error {
	if cur == nil {
		return fmt.Errorf("put cursor requires a cursor")
	}

	bucket := tx.Bucket(bucketCursors)
	if bucket == nil {
		return fmt.Errorf("cursors bucket not found")
	}

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}

	if err := bucket.Put(opKey(cur.QueryID, cur.Table), data); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	return nil
}

func deleteCursor(tx *bbolt.Tx, queryID, table string) error {
	bucket := tx.Bucket(bucketCursors)
	if bucket == nil {
		return nil
	}

	if err := bucket.Delete(opKey(queryID, table)); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}

	return nil
}
