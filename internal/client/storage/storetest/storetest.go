// Package storetest exercises the storage.Store contract against any
// implementation. Engine test packages call Run with their own opener.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// Run проверяет контракт Store на переданной реализации.
// open должен возвращать пустое хранилище, закрываемое через t.Cleanup.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("LookupMissing", func(t *testing.T) { testLookupMissing(t, open(t)) })
	t.Run("UpsertAndLookup", func(t *testing.T) { testUpsertAndLookup(t, open(t)) })
	t.Run("DeleteRecord", func(t *testing.T) { testDeleteRecord(t, open(t)) })
	t.Run("ReadFilters", func(t *testing.T) { testReadFilters(t, open(t)) })
	t.Run("ReadOrderAndLimit", func(t *testing.T) { testReadOrderAndLimit(t, open(t)) })
	t.Run("Operations", func(t *testing.T) { testOperations(t, open(t)) })
	t.Run("Cursors", func(t *testing.T) { testCursors(t, open(t)) })
	t.Run("BatchAtomicity", func(t *testing.T) { testBatchAtomicity(t, open(t)) })
	t.Run("TableIsolation", func(t *testing.T) { testTableIsolation(t, open(t)) })
}

func testLookupMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.Lookup(ctx, "todo", "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	_, err = s.OperationFor(ctx, "todo", "missing")
	assert.ErrorIs(t, err, storage.ErrOperationNotFound)

	_, err = s.Cursor(ctx, "q1", "todo")
	assert.ErrorIs(t, err, storage.ErrCursorNotFound)
}

func testUpsertAndLookup(t *testing.T, s storage.Store) {
	ctx := context.Background()

	rec := models.Record{"id": "r1", "text": "a", "updatedAt": float64(10)}
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.UpsertRecord("todo", rec)}))

	got, err := s.Lookup(ctx, "todo", "r1")
	require.NoError(t, err)
	assert.Equal(t, "a", got["text"])
	assert.Equal(t, int64(10), got.UpdatedAt())

	// Upsert перезаписывает существующую запись
	rec2 := models.Record{"id": "r1", "text": "b"}
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.UpsertRecord("todo", rec2)}))

	got, err = s.Lookup(ctx, "todo", "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", got["text"])
}

func testDeleteRecord(t *testing.T, s storage.Store) {
	ctx := context.Background()

	rec := models.Record{"id": "r1", "text": "a"}
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.UpsertRecord("todo", rec)}))
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.DeleteRecord("todo", "r1")}))

	_, err := s.Lookup(ctx, "todo", "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	// Удаление отсутствующей записи не является ошибкой
	assert.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.DeleteRecord("todo", "r1")}))
}

func testReadFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()

	batch := []storage.BatchOp{
		storage.UpsertRecord("todo", models.Record{"id": "r1", "status": "open", "updatedAt": float64(10)}),
		storage.UpsertRecord("todo", models.Record{"id": "r2", "status": "done", "updatedAt": float64(20)}),
		storage.UpsertRecord("todo", models.Record{"id": "r3", "status": "open", "updatedAt": float64(30)}),
	}
	require.NoError(t, s.ExecuteBatch(ctx, batch))

	recs, err := s.Read(ctx, query.New("todo").Eq("status", "open"))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Read(ctx, &query.Query{Table: "todo", UpdatedAfter: 10})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Read(ctx, query.New("other"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testReadOrderAndLimit(t *testing.T, s storage.Store) {
	ctx := context.Background()

	batch := []storage.BatchOp{
		storage.UpsertRecord("todo", models.Record{"id": "r3", "updatedAt": float64(30)}),
		storage.UpsertRecord("todo", models.Record{"id": "r1", "updatedAt": float64(10)}),
		storage.UpsertRecord("todo", models.Record{"id": "r2", "updatedAt": float64(20)}),
	}
	require.NoError(t, s.ExecuteBatch(ctx, batch))

	recs, err := s.Read(ctx, &query.Query{Table: "todo", OrderByUpdatedAt: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].ID())
	assert.Equal(t, "r2", recs[1].ID())
}

func testOperations(t *testing.T, s storage.Store) {
	ctx := context.Background()

	ops, err := s.Operations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	batch := []storage.BatchOp{
		storage.PutOperation(&models.Operation{Table: "todo", RecordID: "r2", Action: models.ActionUpdate, Seq: 2}),
		storage.PutOperation(&models.Operation{Table: "notes", RecordID: "n1", Action: models.ActionInsert, Seq: 1}),
	}
	require.NoError(t, s.ExecuteBatch(ctx, batch))

	// Operations возвращает журнал в порядке Seq
	ops, err = s.Operations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "n1", ops[0].RecordID)
	assert.Equal(t, "r2", ops[1].RecordID)

	op, err := s.OperationFor(ctx, "todo", "r2")
	require.NoError(t, err)
	assert.Equal(t, models.ActionUpdate, op.Action)

	// Повторная запись для той же пары (table, id) замещает операцию
	replace := storage.PutOperation(&models.Operation{Table: "todo", RecordID: "r2", Action: models.ActionDelete, Seq: 2})
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{replace}))

	op, err = s.OperationFor(ctx, "todo", "r2")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDelete, op.Action)

	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.DeleteOperation("todo", "r2")}))
	_, err = s.OperationFor(ctx, "todo", "r2")
	assert.ErrorIs(t, err, storage.ErrOperationNotFound)
}

func testCursors(t *testing.T, s storage.Store) {
	ctx := context.Background()

	batch := []storage.BatchOp{
		storage.PutCursor(&models.Cursor{QueryID: "q1", Table: "todo", HighWaterMark: 100}),
		storage.PutCursor(&models.Cursor{QueryID: "q2", Table: "todo", HighWaterMark: 200}),
		storage.PutCursor(&models.Cursor{QueryID: "q1", Table: "notes", HighWaterMark: 300}),
	}
	require.NoError(t, s.ExecuteBatch(ctx, batch))

	c, err := s.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.HighWaterMark)

	cs, err := s.CursorsForTable(ctx, "todo")
	require.NoError(t, err)
	assert.Len(t, cs, 2)

	// Advance перезаписывает существующий курсор
	adv := storage.PutCursor(&models.Cursor{QueryID: "q1", Table: "todo", HighWaterMark: 150})
	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{adv}))

	c, err = s.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)
	assert.Equal(t, int64(150), c.HighWaterMark)

	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.DeleteCursor("q1", "todo")}))
	_, err = s.Cursor(ctx, "q1", "todo")
	assert.ErrorIs(t, err, storage.ErrCursorNotFound)

	// Курсор другой таблицы не затронут
	c, err = s.Cursor(ctx, "q1", "notes")
	require.NoError(t, err)
	assert.Equal(t, int64(300), c.HighWaterMark)
}

func testBatchAtomicity(t *testing.T, s storage.Store) {
	ctx := context.Background()

	// Валидный элемент + невалидный: ничего не должно примениться
	batch := []storage.BatchOp{
		storage.UpsertRecord("todo", models.Record{"id": "r1", "text": "a"}),
		{Kind: storage.BatchKind(99)},
	}
	require.Error(t, s.ExecuteBatch(ctx, batch))

	_, err := s.Lookup(ctx, "todo", "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func testTableIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()

	batch := []storage.BatchOp{
		storage.UpsertRecord("todo", models.Record{"id": "r1"}),
		storage.UpsertRecord("notes", models.Record{"id": "r1", "text": "note"}),
	}
	require.NoError(t, s.ExecuteBatch(ctx, batch))

	require.NoError(t, s.ExecuteBatch(ctx, []storage.BatchOp{storage.DeleteRecord("todo", "r1")}))

	got, err := s.Lookup(ctx, "notes", "r1")
	require.NoError(t, err)
	assert.Equal(t, "note", got["text"])
}
