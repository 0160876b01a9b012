package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/offlinekit/tablesync/internal/client/storage"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
)

// puller fetches remote records into the local store page by page. Runs
// only inside the sync-cycle runner.
type puller struct {
	logger    *slog.Logger
	store     storage.Store
	transport Transport
}

// Pull выполняет один цикл выгрузки. Пустой queryID - обычный pull без
// курсора; непустой включает инкрементальный режим: запрос сужается по
// updatedAfter от сохраненного high-water mark, и курсор продвигается
// вместе с каждой зафиксированной страницей.
func (p *puller) Pull(ctx context.Context, q *query.Query, queryID string) error {
	eff := q.Clone()
	// Удаления на сервере должны доехать до устройства: без tombstone'ов
	// локальная копия хранила бы чужие удаленные записи вечно
	eff.IncludeDeleted = true

	var hwm int64
	incremental := queryID != ""
	if incremental {
		cur, err := p.store.Cursor(ctx, queryID, q.Table)
		switch {
		case err == nil:
			hwm = cur.HighWaterMark
		case errors.Is(err, storage.ErrCursorNotFound):
			// Первый инкрементальный pull для этого запроса
		default:
			return fmt.Errorf("failed to load pull cursor: %w", err)
		}

		eff.UpdatedAfter = hwm
		eff.OrderByUpdatedAt = true
	}

	p.logger.Info("pull started",
		"table", q.Table, "query_id", queryID, "high_water_mark", hwm)

	applied, pages := 0, 0
	nextLink := ""
	for {
		page, err := p.transport.Query(ctx, eff, nextLink)
		if err != nil {
			return fmt.Errorf("pull query failed: %w", err)
		}
		pages++

		n, maxUpdated, err := p.applyPage(ctx, q.Table, page.Items, queryID, hwm)
		if err != nil {
			return err
		}
		applied += n
		if maxUpdated > hwm {
			hwm = maxUpdated
		}

		if page.NextLink == "" {
			break
		}
		nextLink = page.NextLink
	}

	p.logger.Info("pull finished",
		"table", q.Table, "pages", pages, "applied", applied, "high_water_mark", hwm)
	return nil
}

// applyPage фиксирует одну страницу одним атомарным батчем: upsert'ы,
// удаления по tombstone'ам плюс продвинутый курсор. Записи с
// незавершенными локальными операциями не трогаются - их судьбу решит
// следующий push.
func (p *puller) applyPage(ctx context.Context, table string, items []map[string]any, queryID string, hwm int64) (int, int64, error) {
	var batch []storage.BatchOp
	maxUpdated := hwm

	for _, item := range items {
		rec := models.Record(item)
		if rec.ID() == "" {
			p.logger.Warn("pull: server record without id skipped", "table", table)
			continue
		}
		if rec.UpdatedAt() > maxUpdated {
			maxUpdated = rec.UpdatedAt()
		}

		_, err := p.store.OperationFor(ctx, table, rec.ID())
		if err == nil {
			// Локальная правка важнее: пропускаем, hwm все равно растет
			p.logger.Debug("pull: record has pending operation, skipping",
				"table", table, "id", rec.ID())
			continue
		}
		if !errors.Is(err, storage.ErrOperationNotFound) {
			return 0, 0, fmt.Errorf("failed to check pending operation: %w", err)
		}

		if rec.Deleted() {
			batch = append(batch, storage.DeleteRecord(table, rec.ID()))
			continue
		}
		batch = append(batch, storage.UpsertRecord(table, rec))
	}

	if queryID != "" && maxUpdated > hwm {
		batch = append(batch, storage.PutCursor(&models.Cursor{
			QueryID:       queryID,
			Table:         table,
			HighWaterMark: maxUpdated,
		}))
	}

	if len(batch) == 0 {
		return 0, maxUpdated, nil
	}

	if err := p.store.ExecuteBatch(ctx, batch); err != nil {
		return 0, 0, fmt.Errorf("failed to apply pull page: %w", err)
	}

	applied := len(batch)
	if queryID != "" && maxUpdated > hwm {
		applied-- // курсор не считается примененной записью
	}
	return applied, maxUpdated, nil
}
