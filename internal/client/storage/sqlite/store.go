package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Lookup retrieves a record by id
func (s *Storage) Lookup(ctx context.Context, table, id string) (models.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE table_name = ? AND id = ?`,
		table, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	rec := models.Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return rec, nil
}

// Read returns all records of q.Table matching q.
// The updated_at bound and ordering are pushed down to SQL; exact-match
// constraints are evaluated against the decoded document, same as the
// other engines.
func (s *Storage) Read(ctx context.Context, q *query.Query) ([]models.Record, error) {
	sqlQuery := `SELECT data FROM records WHERE table_name = ?`
	args := []any{q.Table}

	if q.UpdatedAfter > 0 {
		sqlQuery += ` AND updated_at > ?`
		args = append(args, q.UpdatedAfter)
	}
	if q.OrderByUpdatedAt {
		sqlQuery += ` ORDER BY updated_at ASC`
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var recs []models.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec := models.Record{}
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}

		if q.Matches(rec) {
			recs = append(recs, rec)
		}
		if q.Limit > 0 && len(recs) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return recs, nil
}

// ExecuteBatch применяет все элементы батча в одной SQL транзакции
func (s *Storage) ExecuteBatch(ctx context.Context, batch []storage.BatchOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, op := range batch {
		if err := applyBatchOp(ctx, tx, op); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

func applyBatchOp(ctx context.Context, tx *sql.Tx, op storage.BatchOp) error {
	switch op.Kind {
	case storage.KindUpsertRecord:
		if op.Record == nil || op.Record.ID() == "" {
			return fmt.Errorf("upsert requires a record with an id")
		}
		data, err := json.Marshal(op.Record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (table_name, id, data, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (table_name, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			op.Table, op.Record.ID(), string(data), op.Record.UpdatedAt(),
		)
		return err

	case storage.KindDeleteRecord:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE table_name = ? AND id = ?`, op.Table, op.ID)
		return err

	case storage.KindPutOperation:
		if op.Op == nil {
			return fmt.Errorf("put operation requires an operation")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO operations (table_name, record_id, action, version, seq) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (table_name, record_id) DO UPDATE SET action = excluded.action, version = excluded.version, seq = excluded.seq`,
			op.Op.Table, op.Op.RecordID, string(op.Op.Action), op.Op.Version, op.Op.Seq,
		)
		return err

	case storage.KindDeleteOperation:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM operations WHERE table_name = ? AND record_id = ?`, op.Table, op.ID)
		return err

	case storage.KindPutCursor:
		if op.Cursor == nil {
			return fmt.Errorf("put cursor requires a cursor")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cursors (query_id, table_name, high_water_mark) VALUES (?, ?, ?)
			 ON CONFLICT (query_id, table_name) DO UPDATE SET high_water_mark = excluded.high_water_mark`,
			op.Cursor.QueryID, op.Cursor.Table, op.Cursor.HighWaterMark,
		)
		return err

	case storage.KindDeleteCursor:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM cursors WHERE query_id = ? AND table_name = ?`, op.ID, op.Table)
		return err

	default:
		return fmt.Errorf("unknown batch kind %d", op.Kind)
	}
}

// Operations returns all pending operations ordered by Seq ascending
func (s *Storage) Operations(ctx context.Context) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, record_id, action, version, seq FROM operations ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		var action string
		if err := rows.Scan(&op.Table, &op.RecordID, &action, &op.Version, &op.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Action = models.Action(action)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}

	return ops, nil
}

// OperationFor retrieves the pending operation for (table, id)
func (s *Storage) OperationFor(ctx context.Context, table, id string) (*models.Operation, error) {
	op := models.Operation{}
	var action string
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name, record_id, action, version, seq FROM operations WHERE table_name = ? AND record_id = ?`,
		table, id,
	).Scan(&op.Table, &op.RecordID, &action, &op.Version, &op.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}

	op.Action = models.Action(action)
	return &op, nil
}

// Cursor retrieves the incremental pull cursor for (queryID, table)
func (s *Storage) Cursor(ctx context.Context, queryID, table string) (*models.Cursor, error) {
	cur := models.Cursor{}
	err := s.db.QueryRowContext(ctx,
		`SELECT query_id, table_name, high_water_mark FROM cursors WHERE query_id = ? AND table_name = ?`,
		queryID, table,
	).Scan(&cur.QueryID, &cur.Table, &cur.HighWaterMark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cursor: %w", err)
	}

	return &cur, nil
}

// CursorsForTable returns every cursor scoped to the table
func (s *Storage) CursorsForTable(ctx context.Context, table string) ([]models.Cursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query_id, table_name, high_water_mark FROM cursors WHERE table_name = ? ORDER BY query_id ASC`,
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	var cursors []models.Cursor
	for rows.Next() {
		var cur models.Cursor
		if err := rows.Scan(&cur.QueryID, &cur.Table, &cur.HighWaterMark); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors = append(cursors, cur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cursors: %w", err)
	}

	return cursors, nil
}
