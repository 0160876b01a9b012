// Package handlers implements the HTTP surface of the table service.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/internal/server/storage"
	"github.com/offlinekit/tablesync/internal/validation"
	"github.com/offlinekit/tablesync/pkg/api"
)

// defaultPageSize используется, когда клиент не указал limit
const defaultPageSize = 100

// TablesHandler handles record CRUD and paged queries
type TablesHandler struct {
	logger *slog.Logger
	store  storage.RecordStore
}

// NewTablesHandler creates a new tables handler
func NewTablesHandler(logger *slog.Logger, store storage.RecordStore) *TablesHandler {
	return &TablesHandler{
		logger: logger,
		store:  store,
	}
}

// Register mounts the table routes on the mux
func (h *TablesHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tables/{table}", h.Query)
	mux.HandleFunc("POST /api/v1/tables/{table}", h.Insert)
	mux.HandleFunc("GET /api/v1/tables/{table}/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/tables/{table}/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/tables/{table}/{id}", h.Delete)
}

// Insert обрабатывает POST /api/v1/tables/{table}
func (h *TablesHandler) Insert(w http.ResponseWriter, r *http.Request) {
	table, ok := h.tableName(w, r)
	if !ok {
		return
	}

	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	out, err := h.store.Insert(r.Context(), table, rec)
	if errors.Is(err, storage.ErrRecordExists) {
		// Отдаем текущее состояние, чтобы клиент мог разрешить коллизию
		current, getErr := h.store.Get(r.Context(), table, rec.ID())
		if getErr != nil {
			current = nil
		}
		h.writeError(w, http.StatusConflict, api.CodeExists, "record already exists", current)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, out)
}

// Update обрабатывает PATCH /api/v1/tables/{table}/{id}
func (h *TablesHandler) Update(w http.ResponseWriter, r *http.Request) {
	table, ok := h.tableName(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	out, err := h.store.Update(r.Context(), table, id, r.Header.Get("If-Match"), rec)
	if h.writeStoreError(w, r, err) {
		return
	}

	h.writeJSON(w, http.StatusOK, out)
}

// Delete обрабатывает DELETE /api/v1/tables/{table}/{id}
func (h *TablesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.tableName(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	err := h.store.Delete(r.Context(), table, id, r.Header.Get("If-Match"))
	if h.writeStoreError(w, r, err) {
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Get обрабатывает GET /api/v1/tables/{table}/{id}
func (h *TablesHandler) Get(w http.ResponseWriter, r *http.Request) {
	table, ok := h.tableName(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	rec, err := h.store.Get(r.Context(), table, id)
	if h.writeStoreError(w, r, err) {
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// Query обрабатывает GET /api/v1/tables/{table}.
// Продолжение выборки передается через параметр offset; next_link в
// ответе указывает на следующую страницу, если она возможна.
func (h *TablesHandler) Query(w http.ResponseWriter, r *http.Request) {
	table, ok := h.tableName(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()

	offset := 0
	if raw := params.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid offset", nil)
			return
		}
		offset = n
	}
	params.Del("offset")

	q, err := query.Parse(table, params)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error(), nil)
		return
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	records, err := h.store.Query(r.Context(), q, offset, limit)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	page := api.Page{Items: make([]map[string]any, 0, len(records))}
	for _, rec := range records {
		page.Items = append(page.Items, rec)
	}

	// Полная страница означает, что за ней может быть следующая
	if len(records) == limit {
		next := r.URL.Query()
		next.Set("offset", strconv.Itoa(offset+limit))
		page.NextLink = r.URL.Path + "?" + next.Encode()
	}

	h.writeJSON(w, http.StatusOK, page)
}

// tableName валидирует имя таблицы из пути
func (h *TablesHandler) tableName(w http.ResponseWriter, r *http.Request) (string, bool) {
	table := r.PathValue("table")
	if err := validation.ValidateTableName(table); err != nil {
		h.writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error(), nil)
		return "", false
	}
	return table, true
}

func (h *TablesHandler) decodeRecord(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, api.CodeBadRequest, "invalid request body", nil)
		return nil, false
	}
	if err := validation.ValidateRecordID(rec.ID()); err != nil {
		h.writeError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error(), nil)
		return nil, false
	}
	return rec, true
}

// writeStoreError переводит ошибки хранилища в HTTP ответы.
// Возвращает true, если ответ уже записан.
func (h *TablesHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, storage.ErrRecordNotFound):
		h.writeError(w, http.StatusNotFound, api.CodeNotFound, "record not found", nil)
	default:
		if vm := storage.IsVersionMismatch(err); vm != nil {
			h.writeError(w, http.StatusPreconditionFailed, api.CodeConflict,
				"record version mismatch", vm.Current)
			return true
		}
		h.internalError(w, r, err)
	}
	return true
}

func (h *TablesHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("storage operation failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	h.writeError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error", nil)
}

func (h *TablesHandler) writeError(w http.ResponseWriter, status int, code, message string, record map[string]any) {
	h.writeJSON(w, status, api.ErrorResponse{
		Error:   code,
		Message: message,
		Record:  record,
	})
}

func (h *TablesHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
