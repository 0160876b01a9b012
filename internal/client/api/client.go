// Package api implements the HTTP client for the remote table service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/offlinekit/tablesync/internal/client/auth"
	"github.com/offlinekit/tablesync/internal/models"
	"github.com/offlinekit/tablesync/internal/query"
	"github.com/offlinekit/tablesync/pkg/api"
)

const tablesPath = "/api/v1/tables"

// Client представляет HTTP клиент для взаимодействия с сервером таблиц
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     auth.TokenSource
}

// NewClient создает новый API клиент.
// tokens may be nil for servers that do not require authentication.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// InsertRecord создает запись на сервере.
// Returns the record as stored, with server-assigned version and updatedAt.
func (c *Client) InsertRecord(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	var resp models.Record
	path := tablesPath + "/" + url.PathEscape(table)
	if err := c.doRequest(ctx, http.MethodPost, path, "", rec, &resp); err != nil {
		return nil, fmt.Errorf("insert request failed: %w", err)
	}
	return resp, nil
}

// UpdateRecord обновляет запись на сервере.
// The record's version travels as If-Match; a stale version yields a
// conflict error carrying the server's current record.
func (c *Client) UpdateRecord(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	var resp models.Record
	path := tablesPath + "/" + url.PathEscape(table) + "/" + url.PathEscape(rec.ID())
	if err := c.doRequest(ctx, http.MethodPatch, path, rec.Version(), rec, &resp); err != nil {
		return nil, fmt.Errorf("update request failed: %w", err)
	}
	return resp, nil
}

// DeleteRecord удаляет запись на сервере.
func (c *Client) DeleteRecord(ctx context.Context, table, id, version string) error {
	path := tablesPath + "/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := c.doRequest(ctx, http.MethodDelete, path, version, nil, nil); err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	return nil
}

// Query запрашивает одну страницу записей.
// nextLink, when non-empty, is the continuation returned by the previous
// page and is used verbatim instead of encoding q. Transient failures are
// retried with exponential backoff; reads are idempotent.
func (c *Client) Query(ctx context.Context, q *query.Query, nextLink string) (*api.Page, error) {
	path := nextLink
	if path == "" {
		path = tablesPath + "/" + url.PathEscape(q.Table)
		if params := q.Values().Encode(); params != "" {
			path += "?" + params
		}
	}

	var page api.Page

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		page = api.Page{}
		err := c.doRequest(ctx, http.MethodGet, path, "", nil, &page)
		if err == nil {
			return nil
		}
		if apiErr := AsError(err); apiErr != nil {
			// Повторяем только временные ошибки сервера
			if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(err)
			}
			return err
		}
		// Сетевые ошибки считаем временными
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}

	return &page, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, ifMatch string, body, result any) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			apiErr.Code = errResp.Error
			apiErr.Message = errResp.Message
			if errResp.Record != nil {
				apiErr.ServerRecord = models.Record(errResp.Record)
			}
		} else {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
