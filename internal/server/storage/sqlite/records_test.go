package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/internal/server/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestInsertAssignsVersionAndUpdatedAt(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Version())
	assert.Positive(t, rec.UpdatedAt())

	got, err := s.Get(ctx, "todo", "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version(), got.Version())
}

func TestInsertDuplicateFails(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "a"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "b"})
	assert.ErrorIs(t, err, storage.ErrRecordExists)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "a"})
	require.NoError(t, err)

	current, err := s.Update(ctx, "todo", "r1", first.Version(), models.Record{"id": "r1", "text": "b"})
	require.NoError(t, err)

	// Повторное обновление с прежней версией должно вернуть конфликт
	// с актуальным состоянием записи
	_, err = s.Update(ctx, "todo", "r1", first.Version(), models.Record{"id": "r1", "text": "c"})
	vm := storage.IsVersionMismatch(err)
	require.NotNil(t, vm)
	assert.Equal(t, current.Version(), models.Record(vm.Current).Version())
	assert.Equal(t, "b", vm.Current["text"])
}

func TestUpdateWithoutIfMatchSkipsCheck(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "a"})
	require.NoError(t, err)

	got, err := s.Update(ctx, "todo", "r1", "", models.Record{"id": "r1", "text": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", got["text"])
}

func TestUpdateMissingRecordFails(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Update(context.Background(), "todo", "nope", "", models.Record{"id": "nope"})
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestDeleteHidesRecord(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "x"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "todo", "r1", rec.Version()))

	_, err = s.Get(ctx, "todo", "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "todo", "r1", ""), storage.ErrRecordNotFound)
}

func TestInsertResurrectsDeletedRecord(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "old"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "todo", "r1", ""))

	_, err = s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "new"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "todo", "r1")
	require.NoError(t, err)
	assert.Equal(t, "new", got["text"])
}

func TestQueryFiltersAndPages(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := s.Insert(ctx, "todo", models.Record{
			"id":   fmt.Sprintf("r%d", i),
			"done": i%2 == 0,
		})
		require.NoError(t, err)
	}
	// Запись другой таблицы не должна попасть в выборку
	_, err := s.Insert(ctx, "notes", models.Record{"id": "n1"})
	require.NoError(t, err)

	all, err := s.Query(ctx, query.New("todo"), 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	done, err := s.Query(ctx, query.New("todo").Eq("done", true), 0, 0)
	require.NoError(t, err)
	assert.Len(t, done, 2)

	page, err := s.Query(ctx, query.New("todo"), 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	tail, err := s.Query(ctx, query.New("todo"), 4, 2)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}

func TestQueryIncludeDeletedReturnsTombstones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	kept, err := s.Insert(ctx, "todo", models.Record{"id": "r1", "text": "kept"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "todo", models.Record{"id": "r2", "text": "doomed"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "todo", "r2", ""))

	// Обычная выборка tombstone не видит
	live, err := s.Query(ctx, query.New("todo"), 0, 0)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "r1", live[0].ID())

	q := query.New("todo")
	q.IncludeDeleted = true
	all, err := s.Query(ctx, q, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[string]models.Record{}
	for _, rec := range all {
		byID[rec.ID()] = rec
	}
	assert.False(t, byID["r1"].Deleted())
	assert.True(t, byID["r2"].Deleted())

	// Tombstone несет свежую метку: инкрементальный клиент, уже видевший
	// запись живой, получит ее удаление по updatedAfter
	assert.Greater(t, byID["r2"].UpdatedAt(), kept.UpdatedAt())
}

func TestQueryIncrementalOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var recs []models.Record
	for i := 1; i <= 3; i++ {
		rec, err := s.Insert(ctx, "todo", models.Record{"id": fmt.Sprintf("r%d", i)})
		require.NoError(t, err)
		recs = append(recs, rec)
	}

	q := query.New("todo")
	q.UpdatedAfter = recs[0].UpdatedAt()
	q.OrderByUpdatedAt = true

	got, err := s.Query(ctx, q, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID())
	assert.Equal(t, "r3", got[1].ID())
	assert.Less(t, got[0].UpdatedAt(), got[1].UpdatedAt())
}
