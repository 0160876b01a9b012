package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/internal/server/storage"
)

var stampMu sync.Mutex
var lastStamp int64

// nowMillis выдает строго возрастающие метки времени: инкрементальные
// клиенты фильтруют строго по updatedAt > cursor, и две записи с
// одинаковой меткой на границе страницы потерялись бы.
func nowMillis() int64 {
	stampMu.Lock()
	defer stampMu.Unlock()

	now := time.Now().UnixMilli()
	if now <= lastStamp {
		now = lastStamp + 1
	}
	lastStamp = now
	return now
}

// stamp назначает записи серверные version и updatedAt
func stamp(rec models.Record) models.Record {
	out := rec.Clone()
	out[models.FieldVersion] = uuid.NewString()
	out[models.FieldUpdatedAt] = nowMillis()
	return out
}

// Insert creates a record, assigning version and updatedAt.
// A soft-deleted row under the same id is resurrected.
func (s *Storage) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	current, deleted, err := s.load(ctx, table, rec.ID())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing record: %w", err)
	}
	if current != nil && !deleted {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrRecordExists, table, rec.ID())
	}

	out := stamp(rec)
	if err := s.write(ctx, table, out, false); err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}
	return out, nil
}

// Update replaces a live record under optimistic concurrency: a non-empty
// ifMatch must equal the record's current version.
func (s *Storage) Update(ctx context.Context, table, id, ifMatch string, rec models.Record) (models.Record, error) {
	current, deleted, err := s.load(ctx, table, id)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	if ifMatch != "" && ifMatch != current.Version() {
		return nil, &storage.VersionMismatchError{Current: current}
	}

	out := stamp(rec)
	out[models.FieldID] = id
	if err := s.write(ctx, table, out, false); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	return out, nil
}

// Delete soft-deletes a record under the same If-Match discipline.
func (s *Storage) Delete(ctx context.Context, table, id, ifMatch string) error {
	current, deleted, err := s.load(ctx, table, id)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return fmt.Errorf("%w: %s/%s", storage.ErrRecordNotFound, table, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if ifMatch != "" && ifMatch != current.Version() {
		return &storage.VersionMismatchError{Current: current}
	}

	// Soft delete: строка остается с новой меткой времени
	tombstone := stamp(current)
	if err := s.write(ctx, table, tombstone, true); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Get retrieves a live record by id
func (s *Storage) Get(ctx context.Context, table, id string) (models.Record, error) {
	rec, deleted, err := s.load(ctx, table, id)
	if errors.Is(err, sql.ErrNoRows) || deleted {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Query returns records matching q starting at offset, at most limit
// rows. Field constraints are evaluated in Go against the decoded JSON,
// matching how local stores evaluate the same query. With IncludeDeleted
// the result also carries tombstones, marked with the deleted field, so
// incremental clients can drop their local copies.
func (s *Storage) Query(ctx context.Context, q *query.Query, offset, limit int) ([]models.Record, error) {
	sqlQuery := `
		SELECT data, deleted FROM records
		WHERE table_name = ? AND updated_at > ?
	`
	if !q.IncludeDeleted {
		sqlQuery += " AND deleted = 0"
	}
	if q.OrderByUpdatedAt {
		sqlQuery += " ORDER BY updated_at ASC"
	} else {
		sqlQuery += " ORDER BY id ASC"
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, q.Table, q.UpdatedAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	matched := make([]models.Record, 0)
	for rows.Next() {
		var data []byte
		var del int
		if err := rows.Scan(&data, &del); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		if del != 0 {
			// Флаг живет в колонке, а не в data: помечаем на выдаче
			rec[models.FieldDeleted] = true
		}

		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if offset >= len(matched) {
		return []models.Record{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// load возвращает строку независимо от флага deleted
func (s *Storage) load(ctx context.Context, table, id string) (models.Record, bool, error) {
	var data []byte
	var deleted int

	err := s.db.QueryRowContext(ctx,
		`SELECT data, deleted FROM records WHERE table_name = ? AND id = ?`,
		table, id,
	).Scan(&data, &deleted)
	if err != nil {
		return nil, false, err
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, deleted != 0, nil
}

// write сохраняет запись, замещая существующую строку
func (s *Storage) write(ctx context.Context, table string, rec models.Record, deleted bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	del := 0
	if deleted {
		del = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (table_name, id, data, version, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted
	`, table, rec.ID(), data, rec.Version(), rec.UpdatedAt(), del)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
