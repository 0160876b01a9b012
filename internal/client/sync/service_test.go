package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/offlinekit/tablesync/internal/client/api"
	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/client/storage/memory"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/pkg/api"
)

// fakeTransport имитирует сервер таблиц в памяти. Ошибки инъектируются
// через поля *Err; пагинация управляется pageSize.
type fakeTransport struct {
	tables   map[string]map[string]models.Record
	pageSize int
	clock    int64
	versions int

	insertCalls int
	updateCalls int
	deleteCalls int
	queryCalls  int

	lastInsert models.Record
	lastUpdate models.Record
	lastQuery  *query.Query

	insertErr error
	updateErr error
	deleteErr error
	failPage  int // номер вызова Query, который должен упасть (1-based)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		tables: make(map[string]map[string]models.Record),
		clock:  1000,
	}
}

// seed кладет запись на "сервер" напрямую, присваивая version и updatedAt
func (f *fakeTransport) seed(table string, rec models.Record) models.Record {
	out := f.stamp(rec)
	f.put(table, out)
	return out
}

func (f *fakeTransport) stamp(rec models.Record) models.Record {
	out := rec.Clone()
	f.versions++
	f.clock++
	out[models.FieldVersion] = fmt.Sprintf("v%d", f.versions)
	out[models.FieldUpdatedAt] = f.clock
	return out
}

func (f *fakeTransport) put(table string, rec models.Record) {
	if f.tables[table] == nil {
		f.tables[table] = make(map[string]models.Record)
	}
	f.tables[table][rec.ID()] = rec
}

func (f *fakeTransport) InsertRecord(_ context.Context, table string, rec models.Record) (models.Record, error) {
	f.insertCalls++
	f.lastInsert = rec.Clone()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if cur, ok := f.tables[table][rec.ID()]; ok && !cur.Deleted() {
		// Как настоящий сервер: 409 несет текущее состояние записи
		return nil, &httpapi.Error{
			StatusCode:   http.StatusConflict,
			Code:         api.CodeExists,
			ServerRecord: cur.Clone(),
		}
	}
	out := f.stamp(rec)
	f.put(table, out)
	return out.Clone(), nil
}

func (f *fakeTransport) UpdateRecord(_ context.Context, table string, rec models.Record) (models.Record, error) {
	f.updateCalls++
	f.lastUpdate = rec.Clone()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if _, ok := f.tables[table][rec.ID()]; !ok {
		return nil, &httpapi.Error{StatusCode: http.StatusNotFound, Code: api.CodeNotFound}
	}
	out := f.stamp(rec)
	f.put(table, out)
	return out.Clone(), nil
}

func (f *fakeTransport) DeleteRecord(_ context.Context, table, id, _ string) error {
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	rec, ok := f.tables[table][id]
	if !ok || rec.Deleted() {
		return &httpapi.Error{StatusCode: http.StatusNotFound, Code: api.CodeNotFound}
	}
	// Soft delete, как на настоящем сервере: tombstone с новой меткой
	out := f.stamp(rec)
	out[models.FieldDeleted] = true
	f.put(table, out)
	return nil
}

func (f *fakeTransport) Query(_ context.Context, q *query.Query, nextLink string) (*api.Page, error) {
	f.queryCalls++
	if f.failPage > 0 && f.queryCalls == f.failPage {
		return nil, errors.New("server unavailable")
	}
	f.lastQuery = q.Clone()

	var matched []models.Record
	for _, rec := range f.tables[q.Table] {
		if rec.Deleted() && !q.IncludeDeleted {
			continue
		}
		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt() < matched[j].UpdatedAt()
	})

	offset := 0
	if nextLink != "" {
		offset, _ = strconv.Atoi(strings.TrimPrefix(nextLink, "offset="))
	}

	page := &api.Page{}
	end := len(matched)
	if f.pageSize > 0 && offset+f.pageSize < end {
		end = offset + f.pageSize
		page.NextLink = fmt.Sprintf("offset=%d", end)
	}
	for _, rec := range matched[offset:end] {
		page.Items = append(page.Items, map[string]any(rec.Clone()))
	}
	return page, nil
}

func newTestService(t *testing.T, ft Transport) (*Service, storage.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(ft, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.Initialize(context.Background(), store))
	t.Cleanup(func() { _ = svc.Close() })

	return svc, store
}

func TestUninitializedServiceFailsFast(t *testing.T) {
	svc := NewService(newFakeTransport(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"text": "x"})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = svc.Update(ctx, "todo", models.Record{"id": "r1"})
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, svc.Delete(ctx, "todo", models.Record{"id": "r1"}), ErrNotInitialized)
	assert.ErrorIs(t, svc.Push(ctx, nil), ErrNotInitialized)
	assert.ErrorIs(t, svc.Pull(ctx, query.New("todo"), ""), ErrNotInitialized)
	assert.ErrorIs(t, svc.Purge(ctx, query.New("todo"), false), ErrNotInitialized)
}

func TestInitializeTwiceFails(t *testing.T) {
	svc, store := newTestService(t, newFakeTransport())

	err := svc.Initialize(context.Background(), store)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInsertAssignsID(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	rec, err := svc.Insert(ctx, "todo", models.Record{"text": "buy milk"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID())

	got, err := svc.Lookup(ctx, "todo", rec.ID(), false)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got["text"])
}

func TestInsertDuplicateFails(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "a"})
	require.NoError(t, err)

	_, err = svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "b"})
	assert.ErrorIs(t, err, ErrRecordExists)
}

func TestUpdateUpsertsMissingRecord(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	_, err := svc.Update(ctx, "todo", models.Record{"id": "r1", "text": "late arrival"})
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "late arrival", got["text"])
}

func TestDeleteAfterInsertLeavesNothingPending(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	rec, err := svc.Insert(ctx, "todo", models.Record{"text": "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "todo", rec))

	_, err = svc.Lookup(ctx, "todo", rec.ID(), false)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	got, err := svc.Lookup(ctx, "todo", rec.ID(), true)
	require.NoError(t, err)
	assert.Nil(t, got)

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestValidationErrors(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	_, err := svc.Insert(ctx, "9bad table", models.Record{"text": "x"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Insert(ctx, "todo", nil)
	assert.True(t, IsValidationError(err))

	_, err = svc.Update(ctx, "todo", models.Record{"text": "no id"})
	assert.True(t, IsValidationError(err))

	assert.True(t, IsValidationError(svc.Pull(ctx, nil, "")))
}

func TestPushSendsCollapsedOperation(t *testing.T) {
	ft := newFakeTransport()
	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	rec, err := svc.Insert(ctx, "todo", models.Record{"text": "draft"})
	require.NoError(t, err)
	rec["text"] = "final"
	_, err = svc.Update(ctx, "todo", rec)
	require.NoError(t, err)

	require.NoError(t, svc.Push(ctx, nil))

	// insert+update схлопнулись: сервер видит ровно один create с
	// финальным содержимым
	assert.Equal(t, 1, ft.insertCalls)
	assert.Zero(t, ft.updateCalls)
	assert.Equal(t, "final", ft.lastInsert["text"])

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	// Локальная запись принимает каноничное серверное состояние
	got, err := svc.Lookup(ctx, "todo", rec.ID(), false)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Version())
}

func TestPushTwiceIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"text": "x"})
	require.NoError(t, err)

	require.NoError(t, svc.Push(ctx, nil))
	require.NoError(t, svc.Push(ctx, nil))

	assert.Equal(t, 1, ft.insertCalls)
}

func TestPushDeleteGoneOnServerSucceeds(t *testing.T) {
	ft := newFakeTransport()
	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	// update+delete дает pending delete для записи, которой на сервере нет
	_, err := svc.Update(ctx, "todo", models.Record{"id": "r1", "text": "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "todo", models.Record{"id": "r1"}))

	require.NoError(t, svc.Push(ctx, nil))

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestPushConflictKeepPending(t *testing.T) {
	ft := newFakeTransport()
	server := ft.seed("todo", models.Record{"id": "r1", "text": "server"})
	ft.insertErr = &httpapi.Error{
		StatusCode:   http.StatusConflict,
		Code:         api.CodeConflict,
		ServerRecord: server,
	}

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "local"})
	require.NoError(t, err)

	var seen *Conflict
	h := HandlerFuncs{
		ConflictFunc: func(_ context.Context, c *Conflict) (Resolution, error) {
			seen = c
			return KeepPending(), nil
		},
	}
	require.NoError(t, svc.Push(ctx, h))

	require.NotNil(t, seen)
	assert.Equal(t, "server", seen.Server["text"])
	assert.Equal(t, "local", seen.Local["text"])

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "local", got["text"])
}

func TestPushConflictDiscardLocal(t *testing.T) {
	ft := newFakeTransport()
	server := ft.seed("todo", models.Record{"id": "r1", "text": "server"})
	ft.insertErr = &httpapi.Error{
		StatusCode:   http.StatusConflict,
		Code:         api.CodeConflict,
		ServerRecord: server,
	}

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "local"})
	require.NoError(t, err)

	h := HandlerFuncs{
		ConflictFunc: func(_ context.Context, _ *Conflict) (Resolution, error) {
			return DiscardLocal(), nil
		},
	}
	require.NoError(t, svc.Push(ctx, h))

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "server", got["text"])
}

func TestPushConflictRetryWithMerged(t *testing.T) {
	ft := newFakeTransport()
	server := ft.seed("todo", models.Record{"id": "r1", "text": "server"})
	ft.updateErr = &httpapi.Error{
		StatusCode:   http.StatusPreconditionFailed,
		Code:         api.CodeConflict,
		ServerRecord: server,
	}

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Update(ctx, "todo", models.Record{"id": "r1", "text": "local"})
	require.NoError(t, err)

	h := HandlerFuncs{
		ConflictFunc: func(_ context.Context, c *Conflict) (Resolution, error) {
			ft.updateErr = nil // сервер примет повтор
			merged := c.Local.Clone()
			merged["text"] = "merged"
			return RetryWith(merged), nil
		},
	}
	require.NoError(t, svc.Push(ctx, h))

	// Повтор идет с версией сервера, чтобы пройти If-Match
	assert.Equal(t, 2, ft.updateCalls)
	assert.Equal(t, "merged", ft.lastUpdate["text"])
	assert.Equal(t, server.Version(), ft.lastUpdate.Version())

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	assert.Equal(t, "merged", ft.tables["todo"]["r1"]["text"])
}

func TestPushUnhandledErrorStaysPending(t *testing.T) {
	ft := newFakeTransport()
	ft.insertErr = errors.New("network down")

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"text": "x"})
	require.NoError(t, err)

	err = svc.Push(ctx, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "network down")

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestPushContinuesPastFailedOperation(t *testing.T) {
	ft := newFakeTransport()
	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "a"})
	require.NoError(t, err)
	_, err = svc.Insert(ctx, "todo", models.Record{"id": "r2", "text": "b"})
	require.NoError(t, err)

	failed := errors.New("boom")
	h := HandlerFuncs{
		ErrorFunc: func(_ context.Context, c *Conflict) (Resolution, error) {
			return KeepPending(), c.Err
		},
	}
	ft.insertErr = failed

	// Обе операции должны быть предприняты несмотря на ошибку первой
	err = svc.Push(ctx, h)
	require.Error(t, err)
	assert.Equal(t, 2, ft.insertCalls)

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

// gatedTransport задерживает первый InsertRecord до сигнала release,
// позволяя тесту вклинить локальную правку, пока запрос "в полете".
type gatedTransport struct {
	*fakeTransport
	entered chan struct{}
	release chan struct{}
	passed  bool
}

func (g *gatedTransport) InsertRecord(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	if !g.passed {
		g.passed = true
		close(g.entered)
		<-g.release
	}
	return g.fakeTransport.InsertRecord(ctx, table, rec)
}

func TestUpdateDuringInFlightPushSurvives(t *testing.T) {
	ft := newFakeTransport()
	gt := &gatedTransport{
		fakeTransport: ft,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}

	svc, _ := newTestService(t, gt)
	ctx := context.Background()

	rec, err := svc.Insert(ctx, "todo", models.Record{"text": "draft"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Push(ctx, nil) }()
	<-gt.entered

	// Правка приходит, пока insert ждет ответа сервера
	edited := rec.Clone()
	edited["text"] = "final"
	_, err = svc.Update(ctx, "todo", edited)
	require.NoError(t, err)

	close(gt.release)
	require.NoError(t, <-done)

	// Retire видит новый Seq и оставляет операцию; эхо сервера не
	// затирает свежую правку
	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	got, err := svc.Lookup(ctx, "todo", rec.ID(), false)
	require.NoError(t, err)
	assert.Equal(t, "final", got["text"])

	// Следующий push доносит правку: на повторный insert сервер отвечает
	// exists со своей записью, и повтор уходит как update
	h := HandlerFuncs{
		ConflictFunc: func(_ context.Context, _ *Conflict) (Resolution, error) {
			return RetryWith(nil), nil
		},
	}
	require.NoError(t, svc.Push(ctx, h))

	ops, err = svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Equal(t, "final", ft.tables["todo"][rec.ID()]["text"])
}

func TestDeleteDuringInFlightPushIsNotResurrected(t *testing.T) {
	ft := newFakeTransport()
	gt := &gatedTransport{
		fakeTransport: ft,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}

	svc, _ := newTestService(t, gt)
	ctx := context.Background()

	rec, err := svc.Insert(ctx, "todo", models.Record{"text": "x"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Push(ctx, nil) }()
	<-gt.entered

	// Delete схлопывает pending insert, пока запрос "в полете"
	require.NoError(t, svc.Delete(ctx, "todo", rec))

	close(gt.release)
	require.NoError(t, <-done)

	// Эхо сервера не должно воскресить удаленную запись
	_, err = svc.Lookup(ctx, "todo", rec.ID(), false)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPullAppliesAndAdvancesCursor(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "a"})
	ft.seed("todo", models.Record{"id": "r2", "text": "b"})
	last := ft.seed("todo", models.Record{"id": "r3", "text": "c"})

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	recs, err := svc.Read(ctx, query.New("todo"))
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	cur, err := store.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)
	assert.Equal(t, last.UpdatedAt(), cur.HighWaterMark)
}

func TestPullSecondIncrementalFiltersByCursor(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "a"})

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))
	cur, err := store.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	// Повторный pull спрашивает только то, что новее high-water mark
	require.NotNil(t, ft.lastQuery)
	assert.Equal(t, cur.HighWaterMark, ft.lastQuery.UpdatedAfter)
	assert.True(t, ft.lastQuery.OrderByUpdatedAt)

	cur2, err := store.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)
	assert.Equal(t, cur.HighWaterMark, cur2.HighWaterMark)
}

func TestPullSkipsRecordsWithPendingOperations(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "server"})
	last := ft.seed("todo", models.Record{"id": "r2", "text": "plain"})

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	_, err := svc.Update(ctx, "todo", models.Record{"id": "r1", "text": "local edit"})
	require.NoError(t, err)

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	// Локальная правка не затерта
	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "local edit", got["text"])

	got, err = svc.Lookup(ctx, "todo", "r2", false)
	require.NoError(t, err)
	assert.Equal(t, "plain", got["text"])

	// Курсор продвигается и через пропущенные записи
	cur, err := store.Cursor(ctx, "q1", "todo")
	require.NoError(t, err)
	assert.Equal(t, last.UpdatedAt(), cur.HighWaterMark)
}

func TestPullPaginatesViaNextLink(t *testing.T) {
	ft := newFakeTransport()
	ft.pageSize = 2
	for i := 1; i <= 5; i++ {
		ft.seed("todo", models.Record{"id": fmt.Sprintf("r%d", i), "text": "x"})
	}

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), ""))

	assert.Equal(t, 3, ft.queryCalls)

	recs, err := svc.Read(ctx, query.New("todo"))
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestPullFailedPageKeepsCommittedCursor(t *testing.T) {
	ft := newFakeTransport()
	ft.pageSize = 2
	ft.failPage = 2
	ft.seed("todo", models.Record{"id": "r1", "text": "a"})
	second := ft.seed("todo", models.Record{"id": "r2", "text": "b"})
	ft.seed("todo", models.Record{"id": "r3", "text": "c"})

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	err := svc.Pull(ctx, query.New("todo"), "q1")
	require.Error(t, err)

	// Первая страница зафиксирована вместе со своим курсором
	recs, readErr := svc.Read(ctx, query.New("todo"))
	require.NoError(t, readErr)
	assert.Len(t, recs, 2)

	cur, curErr := store.Cursor(ctx, "q1", "todo")
	require.NoError(t, curErr)
	assert.Equal(t, second.UpdatedAt(), cur.HighWaterMark)
}

func TestPullPropagatesServerDeletions(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "a"})
	ft.seed("todo", models.Record{"id": "r2", "text": "b"})

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	// Другой клиент удаляет запись на сервере
	require.NoError(t, ft.DeleteRecord(ctx, "todo", "r1", ""))

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	// Tombstone доехал: локальная копия удалена, сосед жив
	_, err := svc.Lookup(ctx, "todo", "r1", false)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = svc.Lookup(ctx, "todo", "r2", false)
	require.NoError(t, err)
}

func TestPullKeepsPendingEditOverTombstone(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "server"})

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))
	require.NoError(t, ft.DeleteRecord(ctx, "todo", "r1", ""))

	// Локальная правка против серверного удаления: правка важнее,
	// развязку даст следующий push
	_, err := svc.Update(ctx, "todo", models.Record{"id": "r1", "text": "local edit"})
	require.NoError(t, err)

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "local edit", got["text"])
}

func TestPurgeBlockedByPendingOperations(t *testing.T) {
	svc, _ := newTestService(t, newFakeTransport())
	ctx := context.Background()

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "x"})
	require.NoError(t, err)

	err = svc.Purge(ctx, query.New("todo"), false)
	assert.ErrorIs(t, err, ErrPurgeConflict)

	// Данные не тронуты
	_, err = svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
}

func TestPurgeOtherTablePendingDoesNotBlock(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("notes", models.Record{"id": "n1", "text": "note"})

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("notes"), ""))

	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r1", "text": "x"})
	require.NoError(t, err)

	require.NoError(t, svc.Purge(ctx, query.New("notes"), false))

	_, err = svc.Lookup(ctx, "notes", "n1", true)
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, "todo", "r1", false)
	require.NoError(t, err)
	assert.Equal(t, "x", got["text"])
}

func TestForcedPurgeDropsRecordsOperationsAndCursors(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "text": "pulled"})

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))
	_, err := svc.Insert(ctx, "todo", models.Record{"id": "r2", "text": "unsynced"})
	require.NoError(t, err)

	require.NoError(t, svc.Purge(ctx, query.New("todo"), true))

	recs, err := svc.Read(ctx, query.New("todo"))
	require.NoError(t, err)
	assert.Empty(t, recs)

	ops, err := svc.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	_, err = store.Cursor(ctx, "q1", "todo")
	assert.ErrorIs(t, err, storage.ErrCursorNotFound)
}

func TestPurgeWithWhereRemovesOnlyMatching(t *testing.T) {
	ft := newFakeTransport()
	ft.seed("todo", models.Record{"id": "r1", "done": true})
	ft.seed("todo", models.Record{"id": "r2", "done": false})

	svc, _ := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), ""))
	require.NoError(t, svc.Purge(ctx, query.New("todo").Eq("done", true), false))

	_, err := svc.Lookup(ctx, "todo", "r1", false)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = svc.Lookup(ctx, "todo", "r2", false)
	require.NoError(t, err)
}

func TestPurgeIgnoresQueryLimit(t *testing.T) {
	ft := newFakeTransport()
	for i := 1; i <= 4; i++ {
		ft.seed("todo", models.Record{"id": fmt.Sprintf("r%d", i), "text": "x"})
	}

	svc, store := newTestService(t, ft)
	ctx := context.Background()

	require.NoError(t, svc.Pull(ctx, query.New("todo"), "q1"))

	// Limit описывает страницу pull; purge обязан снести все совпадения,
	// а не первую страницу
	q := query.New("todo")
	q.Limit = 1
	require.NoError(t, svc.Purge(ctx, q, false))

	recs, err := svc.Read(ctx, query.New("todo"))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = store.Cursor(ctx, "q1", "todo")
	assert.ErrorIs(t, err, storage.ErrCursorNotFound)
}
