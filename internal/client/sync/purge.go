package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/query"
)

// purger removes local data that matched a pull query but is no longer
// wanted on the device. Runs only inside the sync-cycle runner.
type purger struct {
	logger *slog.Logger
	store  storage.Store
}

// Purge удаляет локальные записи по запросу q вместе с курсорами
// таблицы. Обычный purge отказывается работать, пока в таблице есть
// незавершенные операции; force отбрасывает их без отправки на сервер.
// Другие таблицы не затрагиваются.
func (p *purger) Purge(ctx context.Context, q *query.Query, force bool) error {
	ops, err := p.store.Operations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load operation log: %w", err)
	}

	var pending []storage.BatchOp
	for _, op := range ops {
		if op.Table != q.Table {
			continue
		}
		if !force {
			return fmt.Errorf("%w: table %s has unsynced changes", ErrPurgeConflict, q.Table)
		}
		pending = append(pending, storage.DeleteOperation(op.Table, op.RecordID))
	}

	// Limit ограничивает страницу pull, а не объем удаления: purge обязан
	// охватить все совпадения, иначе снятые курсоры оставят таблицу в
	// полупустом состоянии без шанса на полный повторный pull
	eff := q.Clone()
	eff.Limit = 0

	records, err := p.store.Read(ctx, eff)
	if err != nil {
		return fmt.Errorf("failed to read records for purge: %w", err)
	}

	batch := make([]storage.BatchOp, 0, len(records)+len(pending)+1)
	for _, rec := range records {
		batch = append(batch, storage.DeleteRecord(q.Table, rec.ID()))
	}
	batch = append(batch, pending...)

	// Курсоры таблицы снимаются целиком: после purge прежний high-water
	// mark привел бы к неполному повторному pull
	cursors, err := p.store.CursorsForTable(ctx, q.Table)
	if err != nil {
		return fmt.Errorf("failed to load cursors for purge: %w", err)
	}
	for _, cur := range cursors {
		batch = append(batch, storage.DeleteCursor(cur.QueryID, cur.Table))
	}

	if len(batch) == 0 {
		p.logger.Debug("purge: nothing to remove", "table", q.Table)
		return nil
	}

	if err := p.store.ExecuteBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to purge table: %w", err)
	}

	p.logger.Info("purge finished",
		"table", q.Table,
		"records", len(records),
		"dropped_operations", len(pending),
		"cursors", len(cursors),
		"forced", force)
	return nil
}
