// Package api defines the wire types exchanged with the remote table
// service. The service exposes one endpoint per table:
//
//	GET    /api/v1/tables/{table}        query records (paged)
//	POST   /api/v1/tables/{table}        create a record
//	PATCH  /api/v1/tables/{table}/{id}   update a record (If-Match)
//	DELETE /api/v1/tables/{table}/{id}   delete a record (If-Match)
package api

// Error codes carried in ErrorResponse.Error.
const (
	CodeConflict   = "conflict"
	CodeExists     = "exists"
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Page представляет одну страницу результатов запроса к таблице.
type Page struct {
	Items []map[string]any `json:"items"`
	// NextLink указывает на следующую страницу; пустая строка означает
	// конец выборки.
	NextLink string `json:"next_link,omitempty"`
}

// ErrorResponse представляет ошибку сервера.
// Для конфликтов версии (409/412) Record содержит текущее состояние записи
// на сервере, чтобы клиент мог разрешить конфликт локально.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Record  map[string]any `json:"record,omitempty"`
}
