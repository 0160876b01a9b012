package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	httpapi "github.com/offlinekit/tablesync/internal/client/api"
	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
)

// pusher replays the operation log against the server. Runs only inside
// the sync-cycle runner, so it never overlaps pull, purge, or itself.
type pusher struct {
	logger    *slog.Logger
	store     storage.Store
	transport Transport
}

// Push обходит журнал в порядке Seq. Каждая операция обрабатывается
// независимо: ошибка одной не останавливает остальные, но первая
// неразрешенная ошибка возвращается после полного прохода.
func (p *pusher) Push(ctx context.Context, h Handler) error {
	ops, err := p.store.Operations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load operation log: %w", err)
	}

	if len(ops) == 0 {
		p.logger.Debug("push: nothing pending")
		return nil
	}

	p.logger.Info("push started", "pending", len(ops))

	var firstErr error
	pushed := 0
	for _, op := range ops {
		if err := p.pushOne(ctx, op, h); err != nil {
			p.logger.Warn("push operation failed",
				"table", op.Table,
				"id", op.RecordID,
				"action", op.Action,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pushed++
	}

	p.logger.Info("push finished", "pushed", pushed, "failed", len(ops)-pushed)
	return firstErr
}

func (p *pusher) pushOne(ctx context.Context, op models.Operation, h Handler) error {
	var local models.Record
	if op.Action != models.ActionDelete {
		var err error
		local, err = p.store.Lookup(ctx, op.Table, op.RecordID)
		if errors.Is(err, storage.ErrRecordNotFound) {
			// Запись исчезла из-под операции - отправлять нечего
			p.logger.Warn("pending operation without a record, retiring",
				"table", op.Table, "id", op.RecordID)
			return p.retire(ctx, op, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to load record for push: %w", err)
		}
	}

	server, err := p.send(ctx, op, local)
	if err == nil {
		return p.retire(ctx, op, server)
	}

	c := &Conflict{Operation: op, Local: local, Err: err}

	apiErr := httpapi.AsError(err)
	if apiErr != nil && apiErr.Conflict() {
		c.Server = apiErr.ServerRecord
		res, herr := handleConflict(ctx, h, c)
		return p.resolve(ctx, c, res, herr)
	}

	res, herr := handleError(ctx, h, c)
	return p.resolve(ctx, c, res, herr)
}

// send переводит действие операции в запрос к серверу:
// insert -> create, update -> modify, delete -> remove.
func (p *pusher) send(ctx context.Context, op models.Operation, local models.Record) (models.Record, error) {
	switch op.Action {
	case models.ActionInsert:
		return p.transport.InsertRecord(ctx, op.Table, local)
	case models.ActionUpdate:
		return p.transport.UpdateRecord(ctx, op.Table, local)
	case models.ActionDelete:
		err := p.transport.DeleteRecord(ctx, op.Table, op.RecordID, op.Version)
		if apiErr := httpapi.AsError(err); apiErr != nil && apiErr.NotFound() {
			// Запись уже удалена на сервере - цель достигнута
			return nil, nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("unknown action %q", op.Action)
	}
}

// resolve применяет решение обработчика к отклоненной операции.
func (p *pusher) resolve(ctx context.Context, c *Conflict, res Resolution, herr error) error {
	op := c.Operation

	if herr != nil {
		return fmt.Errorf("push %s %s/%s: %w", op.Action, op.Table, op.RecordID, herr)
	}

	switch res.kind {
	case resolveKeep:
		// Операция остается в журнале до следующего push
		p.logger.Debug("operation left pending",
			"table", op.Table, "id", op.RecordID, "action", op.Action)
		return nil

	case resolveDiscard:
		return p.discard(ctx, c)

	case resolveRetry:
		return p.retry(ctx, c, res.record)

	default:
		return fmt.Errorf("unknown resolution for %s/%s", op.Table, op.RecordID)
	}
}

// discard снимает локальное изменение: операция удаляется из журнала,
// а известное серверное состояние замещает локальное.
func (p *pusher) discard(ctx context.Context, c *Conflict) error {
	op := c.Operation

	batch := []storage.BatchOp{storage.DeleteOperation(op.Table, op.RecordID)}
	if c.Server != nil {
		batch = append(batch, storage.UpsertRecord(op.Table, c.Server))
	} else if op.Action != models.ActionDelete {
		// Сервер не дал своей версии - локальная запись недостоверна
		batch = append(batch, storage.DeleteRecord(op.Table, op.RecordID))
	}

	if err := p.store.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to discard local change: %w", err)
	}

	p.logger.Info("local change discarded",
		"table", op.Table, "id", op.RecordID, "action", op.Action)
	return nil
}

// retry повторяет операцию один раз с данными, предоставленными
// обработчиком. Версия сервера подставляется в If-Match, чтобы повтор
// не споткнулся о тот же конфликт.
func (p *pusher) retry(ctx context.Context, c *Conflict, merged models.Record) error {
	op := c.Operation

	if op.Action == models.ActionDelete {
		version := op.Version
		if c.Server != nil {
			version = c.Server.Version()
		}
		err := p.transport.DeleteRecord(ctx, op.Table, op.RecordID, version)
		if apiErr := httpapi.AsError(err); apiErr != nil && apiErr.NotFound() {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("push retry %s %s/%s: %w", op.Action, op.Table, op.RecordID, err)
		}
		return p.retire(ctx, op, nil)
	}

	rec := merged
	if rec == nil {
		rec = c.Local
	}
	if c.Server != nil {
		rec = rec.Clone()
		rec[models.FieldVersion] = c.Server.Version()
	}

	var server models.Record
	var err error
	if c.Server != nil || op.Action == models.ActionUpdate {
		// Запись на сервере существует - повтор идет как modify
		server, err = p.transport.UpdateRecord(ctx, op.Table, rec)
	} else {
		server, err = p.transport.InsertRecord(ctx, op.Table, rec)
	}
	if err != nil {
		return fmt.Errorf("push retry %s %s/%s: %w", op.Action, op.Table, op.RecordID, err)
	}

	return p.retire(ctx, op, server)
}

// retire удаляет подтвержденную операцию из журнала и фиксирует
// каноничное серверное состояние записи.
func (p *pusher) retire(ctx context.Context, op models.Operation, server models.Record) error {
	// Локальная запись могла измениться, пока шел запрос: в этом случае в
	// журнале уже лежит операция с новым Seq, и снимать ее нельзя. Если
	// операция исчезла целиком, ее схлопнул локальный delete - состояние
	// тоже не трогаем, иначе эхо сервера воскресит удаленную запись
	current, err := p.store.OperationFor(ctx, op.Table, op.RecordID)
	if errors.Is(err, storage.ErrOperationNotFound) {
		p.logger.Debug("operation collapsed during push, leaving local state",
			"table", op.Table, "id", op.RecordID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to re-check operation: %w", err)
	}
	if current.Seq != op.Seq {
		p.logger.Debug("record changed during push, keeping new operation",
			"table", op.Table, "id", op.RecordID)
		return nil
	}

	batch := []storage.BatchOp{storage.DeleteOperation(op.Table, op.RecordID)}
	if server != nil && server.ID() != "" {
		batch = append(batch, storage.UpsertRecord(op.Table, server))
	}

	if err := p.store.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to retire operation: %w", err)
	}

	return nil
}
