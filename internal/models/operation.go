package models

// Action описывает тип локальной мутации, ожидающей отправки на сервер.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the three known verbs.
func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Operation представляет одну запись в журнале отложенных операций.
// Инвариант журнала: не более одной операции на пару (Table, RecordID).
type Operation struct {
	Table    string `json:"table"`     // Table имя таблицы
	RecordID string `json:"record_id"` // RecordID идентификатор записи
	Action   Action `json:"action"`    // Action insert/update/delete
	Version  string `json:"version,omitempty"` // Version версия записи на момент pending delete (для If-Match)
	Seq      int64  `json:"seq"`       // Seq логический порядок создания операции
}

// Cursor представляет сохраненный high-water mark инкрементальной выборки.
// Persisted per non-empty QueryID; a vanilla pull never writes one.
type Cursor struct {
	QueryID       string `json:"query_id"`
	Table         string `json:"table"`
	HighWaterMark int64  `json:"high_water_mark"` // max updatedAt (epoch millis) seen by the last committed page
}
