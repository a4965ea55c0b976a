package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPConfig holds REST backend connection settings.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPBackend talks to a PostgREST-style REST API: one path per collection,
// column filters as "field=eq.value" query parameters.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates an HTTPBackend.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Insert creates a row.
func (b *HTTPBackend) Insert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error) {
	rows, err := b.write(ctx, "insert", http.MethodPost, collection, nil, record, "return=representation")
	if err != nil {
		return nil, err
	}
	return first("insert", collection, rows)
}

// Upsert creates a row or merges into the existing one with the same primary key.
func (b *HTTPBackend) Upsert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error) {
	rows, err := b.write(ctx, "upsert", http.MethodPost, collection, nil, record, "resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}
	return first("upsert", collection, rows)
}

// Update patches the row with id.
func (b *HTTPBackend) Update(ctx context.Context, collection, id string, fields interface{}) (json.RawMessage, error) {
	params := url.Values{"id": {"eq." + id}}
	rows, err := b.write(ctx, "update", http.MethodPatch, collection, params, fields, "return=representation")
	if err != nil {
		return nil, err
	}
	return first("update", collection, rows)
}

// Delete removes the row with id.
func (b *HTTPBackend) Delete(ctx context.Context, collection, id string) error {
	params := url.Values{"id": {"eq." + id}}
	_, err := b.write(ctx, "delete", http.MethodDelete, collection, params, nil, "")
	return err
}

// Select lists rows matching q.
func (b *HTTPBackend) Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	params := url.Values{"select": {"*"}}
	for _, f := range q.Filters {
		if f.Value == nil {
			params.Add(f.Field, "is.null")
			continue
		}
		params.Add(f.Field, "eq."+fmt.Sprint(f.Value))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}

	req, err := b.createRequest(ctx, http.MethodGet, collection, params, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req, "select", collection)
}

func (b *HTTPBackend) write(ctx context.Context, op, method, collection string, params url.Values, body interface{}, prefer string) ([]json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", collection, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := b.createRequest(ctx, method, collection, params, reader)
	if err != nil {
		return nil, err
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	return b.do(req, op, collection)
}

func (b *HTTPBackend) createRequest(ctx context.Context, method, collection string, params url.Values, body io.Reader) (*http.Request, error) {
	u := b.baseURL + "/" + url.PathEscape(collection)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("apikey", b.apiKey)
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return req, nil
}

func (b *HTTPBackend) do(req *http.Request, op, collection string) ([]json.RawMessage, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Collection: collection, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Op: op, Collection: collection, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(op, collection, resp.StatusCode, body)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		// Single-object responses
		return []json.RawMessage{json.RawMessage(body)}, nil
	}
	return rows, nil
}

// responseError builds a RemoteError from an error response.
// A JSON "message" field becomes the message; conflict responses keep the body as the server payload.
func responseError(op, collection string, status int, body []byte) *RemoteError {
	re := &RemoteError{Op: op, Collection: collection, StatusCode: status}

	var parsed struct {
		Message string          `json:"message"`
		Current json.RawMessage `json:"current"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		re.Message = parsed.Message
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		re.Message = fmt.Sprintf("%s %s failed with status %d: %s", op, collection, status, text)
	}

	if re.IsConflict() {
		if len(parsed.Current) > 0 {
			re.ServerPayload = parsed.Current
		} else if json.Valid(body) {
			re.ServerPayload = json.RawMessage(body)
		}
	}
	return re
}

func first(op, collection string, rows []json.RawMessage) (json.RawMessage, error) {
	if len(rows) == 0 {
		return nil, &RemoteError{Op: op, Collection: collection, StatusCode: http.StatusNotFound, Message: fmt.Sprintf("%s %s returned no rows", op, collection)}
	}
	return rows[0], nil
}
