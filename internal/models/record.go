package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Well-known record fields. The id is assigned client-side when absent on
// insert; version and updatedAt are authoritative on the server and are
// overwritten by push/pull responses.
const (
	FieldID        = "id"
	FieldVersion   = "version"
	FieldUpdatedAt = "updatedAt"
	FieldDeleted   = "deleted"
)

// Record представляет одну запись таблицы: произвольный JSON-документ,
// ключом которого служит поле id.
type Record map[string]any

// NewID generates a globally unique record identifier.
func NewID() string {
	return uuid.NewString()
}

// ID returns the record's id field, or "" if absent or not a string.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Version returns the server-assigned version, or "" if the record has
// never been acknowledged by the server.
func (r Record) Version() string {
	v, _ := r[FieldVersion].(string)
	return v
}

// UpdatedAt returns the server update timestamp in epoch milliseconds.
// JSON decoding produces float64 for numbers, so both numeric shapes are
// accepted; 0 means the field is absent or malformed.
func (r Record) UpdatedAt() int64 {
	switch v := r[FieldUpdatedAt].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Deleted reports whether the record is a server-side tombstone. The
// server marks deleted rows when a query asks for them; live records
// never carry the field.
func (r Record) Deleted() bool {
	d, _ := r[FieldDeleted].(bool)
	return d
}

// Clone создает глубокую копию записи.
// Nested maps and slices are copied through a JSON round trip; values a
// record can legally hold always survive it.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		// Fall back to a shallow copy for values that cannot round-trip.
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}

	out := make(Record, len(r))
	if err := json.Unmarshal(data, &out); err != nil {
		for k, v := range r {
			out[k] = v
		}
	}
	return out
}
