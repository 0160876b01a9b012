package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Lookup retrieves a record by id
func (s *Storage) Lookup(ctx context.Context, table, id string) (models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var rec models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tableBucket(tx, table)
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		rec = models.Record{}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Read returns all records of q.Table matching q
func (s *Storage) Read(ctx context.Context, q *query.Query) ([]models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var recs []models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tableBucket(tx, q.Table)
		if bucket == nil {
			// Таблицы еще нет - пустой результат
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}

			if q.Matches(rec) {
				recs = append(recs, rec)
			}

			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	if q.OrderByUpdatedAt {
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].UpdatedAt() < recs[j].UpdatedAt()
		})
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}

	return recs, nil
}

// tableBucket возвращает вложенный bucket таблицы или nil
func tableBucket(tx *bbolt.Tx, table string) *bbolt.Bucket {
	data := tx.Bucket(bucketData)
	if data == nil {
		return nil
	}
	return data.Bucket([]byte(table))
}

func putRecord(tx *bbolt.Tx, op storage.BatchOp) error {
	if op.Record == nil || op.Record.ID() == "" {
		return fmt.Errorf("upsert requires a record with an id")
	}

	data := tx.Bucket(bucketData)
	if data == nil {
		return fmt.Errorf("data bucket not found")
	}

	bucket, err := data.CreateBucketIfNotExists([]byte(op.Table))
	if err != nil {
		return fmt.Errorf("failed to create table bucket: %w", err)
	}

	encoded, err := json.Marshal(op.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := bucket.Put([]byte(op.Record.ID()), encoded); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

func deleteRecord(tx *bbolt.Tx, table, id string) error {
	bucket := tableBucket(tx, table)
	if bucket == nil {
		// Таблицы нет - удалять нечего
		return nil
	}

	if err := bucket.Delete([]byte(id)); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}
