package sync

import (
	"context"

	"github.com/offlinekit/tablesync/internal/models"
)

// Conflict describes one pending operation the server refused.
// Server содержит текущее состояние записи на сервере (nil, если сервер
// его не вернул); Local - локальную запись (nil для delete).
type Conflict struct {
	Operation models.Operation
	Local     models.Record
	Server    models.Record
	Err       error
}

// Resolution tells push what to do with a refused operation.
// Use KeepPending, DiscardLocal, or RetryWith to construct one.
type Resolution struct {
	kind   resolutionKind
	record models.Record
}

type resolutionKind int

const (
	resolveKeep resolutionKind = iota
	resolveDiscard
	resolveRetry
)

// KeepPending leaves the operation in the log; it will be retried on the
// next push. The error is considered handled.
func KeepPending() Resolution {
	return Resolution{kind: resolveKeep}
}

// DiscardLocal drops the local change: the operation is retired and the
// server's record, when known, replaces the local one.
func DiscardLocal() Resolution {
	return Resolution{kind: resolveDiscard}
}

// RetryWith re-issues the operation once with the given record, typically
// a merge of the local and server values. Passing nil retries with the
// local record unchanged.
func RetryWith(rec models.Record) Resolution {
	return Resolution{kind: resolveRetry, record: rec}
}

// Handler разрешает конфликты и ошибки push по каждой операции.
// Returning a non-nil error marks the operation unrecovered: it stays
// pending and push reports the failure.
type Handler interface {
	// OnConflict is invoked when the server's record version disagrees
	// with the local view (concurrent remote modification).
	OnConflict(ctx context.Context, c *Conflict) (Resolution, error)

	// OnError is invoked for any other per-operation failure.
	OnError(ctx context.Context, c *Conflict) (Resolution, error)
}

// HandlerFuncs adapts plain functions to Handler. A nil function leaves
// the operation pending and propagates the original error, which is also
// the behavior of a nil Handler.
type HandlerFuncs struct {
	ConflictFunc func(ctx context.Context, c *Conflict) (Resolution, error)
	ErrorFunc    func(ctx context.Context, c *Conflict) (Resolution, error)
}

// OnConflict implements Handler
func (h HandlerFuncs) OnConflict(ctx context.Context, c *Conflict) (Resolution, error) {
	if h.ConflictFunc == nil {
		return KeepPending(), c.Err
	}
	return h.ConflictFunc(ctx, c)
}

// OnError implements Handler
func (h HandlerFuncs) OnError(ctx context.Context, c *Conflict) (Resolution, error) {
	if h.ErrorFunc == nil {
		return KeepPending(), c.Err
	}
	return h.ErrorFunc(ctx, c)
}

func handleConflict(ctx context.Context, h Handler, c *Conflict) (Resolution, error) {
	if h == nil {
		return KeepPending(), c.Err
	}
	return h.OnConflict(ctx, c)
}

func handleError(ctx context.Context, h Handler, c *Conflict) (Resolution, error) {
	if h == nil {
		return KeepPending(), c.Err
	}
	return h.OnError(ctx, c)
}
