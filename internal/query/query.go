// Package query describes table queries that can be evaluated against a
// local store or encoded into URL parameters for the remote table service.
package query

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/offlinekit/tablesync/internal/models"
)

// Query описывает выборку записей из одной таблицы.
// The zero value of every optional field means "no constraint".
type Query struct {
	Table string

	// Where задает точные совпадения по полям записи.
	// Values are compared after string formatting, which matches the way
	// the remote service evaluates them against JSON documents.
	Where map[string]any

	// UpdatedAfter ограничивает выборку записями с updatedAt строго больше
	// указанного значения (epoch millis). 0 отключает фильтр.
	UpdatedAfter int64

	// Limit ограничивает размер одной страницы; 0 означает значение сервера.
	Limit int

	// OrderByUpdatedAt запрашивает сортировку по updatedAt по возрастанию.
	// Required for incremental pulls so the cursor can advance per page.
	OrderByUpdatedAt bool

	// IncludeDeleted просит сервер вернуть и tombstone'ы удаленных записей.
	// Pull relies on it to propagate deletions; local stores ignore the
	// flag because they never hold tombstones.
	IncludeDeleted bool
}

// New creates a query over a single table.
func New(table string) *Query {
	return &Query{Table: table}
}

// Eq adds an exact-match constraint and returns the query for chaining.
func (q *Query) Eq(field string, value any) *Query {
	if q.Where == nil {
		q.Where = make(map[string]any)
	}
	q.Where[field] = value
	return q
}

// Clone returns an independent copy of the query.
func (q *Query) Clone() *Query {
	out := *q
	if q.Where != nil {
		out.Where = make(map[string]any, len(q.Where))
		for k, v := range q.Where {
			out.Where[k] = v
		}
	}
	return &out
}

// Matches reports whether a record satisfies the query's constraints.
// The table itself is not checked here; stores dispatch on q.Table first.
func (q *Query) Matches(rec models.Record) bool {
	if q.UpdatedAfter > 0 && rec.UpdatedAt() <= q.UpdatedAfter {
		return false
	}

	for field, want := range q.Where {
		got, ok := rec[field]
		if !ok {
			return false
		}
		// Сравниваем через строковое представление: JSON декодирует числа
		// как float64, а caller мог передать int
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}

	return true
}

// Values encodes the query's constraints as URL parameters understood by
// the table service. The table name travels in the URL path, not here.
func (q *Query) Values() url.Values {
	v := url.Values{}

	for field, val := range q.Where {
		v.Set("where."+field, fmt.Sprint(val))
	}
	if q.UpdatedAfter > 0 {
		v.Set("updatedAfter", strconv.FormatInt(q.UpdatedAfter, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.OrderByUpdatedAt {
		v.Set("orderBy", models.FieldUpdatedAt)
	}
	if q.IncludeDeleted {
		v.Set("includeDeleted", "true")
	}

	return v
}

// Parse reconstructs a query from URL parameters. Used by the table service
// to interpret what Values produced.
func Parse(table string, v url.Values) (*Query, error) {
	q := New(table)

	for key, vals := range v {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]

		switch {
		case len(key) > 6 && key[:6] == "where.":
			q.Eq(key[6:], val)
		case key == "updatedAfter":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid updatedAfter %q: %w", val, err)
			}
			q.UpdatedAfter = n
		case key == "limit":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid limit %q: %w", val, err)
			}
			q.Limit = n
		case key == "orderBy":
			if val != models.FieldUpdatedAt {
				return nil, fmt.Errorf("unsupported orderBy %q", val)
			}
			q.OrderByUpdatedAt = true
		case key == "includeDeleted":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("invalid includeDeleted %q: %w", val, err)
			}
			q.IncludeDeleted = b
		}
	}

	return q, nil
}
