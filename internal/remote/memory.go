package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gridops/fieldsync/internal/uuid"
)

// MemoryBackend is an in-process Backend for tests and demos.
type MemoryBackend struct {
	mu        sync.Mutex
	rows      map[string]map[string]map[string]interface{}
	calls     map[string]int
	failures  map[string]error
	conflicts map[string]json.RawMessage
	failAll   error
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows:      make(map[string]map[string]map[string]interface{}),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		conflicts: make(map[string]json.RawMessage),
	}
}

func callKey(op, collection string) string { return op + ":" + collection }

// FailOn makes every op on collection return err until cleared with a nil err.
func (m *MemoryBackend) FailOn(op, collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, callKey(op, collection))
		return
	}
	m.failures[callKey(op, collection)] = err
}

// FailAll makes every call return err until cleared with nil.
func (m *MemoryBackend) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// ConflictOn makes the next write to collection/id fail with 409 carrying serverPayload.
func (m *MemoryBackend) ConflictOn(collection, id string, serverPayload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[collection+"/"+id] = serverPayload
}

// Calls returns how many times op was invoked on collection.
func (m *MemoryBackend) Calls(op, collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[callKey(op, collection)]
}

// TotalCalls returns the number of calls of any kind.
func (m *MemoryBackend) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// Row returns a stored row.
func (m *MemoryBackend) Row(collection, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[collection][id]
	if !ok {
		return nil, false
	}
	data, _ := json.Marshal(row)
	return data, true
}

// Seed stores a row without counting a call.
func (m *MemoryBackend) Seed(collection string, record interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, err := toMap(record)
	if err != nil {
		return err
	}
	m.table(collection)[rowID(row)] = row
	return nil
}

func (m *MemoryBackend) table(collection string) map[string]map[string]interface{} {
	t, ok := m.rows[collection]
	if !ok {
		t = make(map[string]map[string]interface{})
		m.rows[collection] = t
	}
	return t
}

// begin records a call and returns an injected failure, if any. Callers hold m.mu.
func (m *MemoryBackend) begin(op, collection, id string) error {
	m.calls[callKey(op, collection)]++
	if m.failAll != nil {
		return m.failAll
	}
	if err, ok := m.failures[callKey(op, collection)]; ok {
		return err
	}
	if id != "" {
		if payload, ok := m.conflicts[collection+"/"+id]; ok {
			delete(m.conflicts, collection+"/"+id)
			return &RemoteError{
				Op:            op,
				Collection:    collection,
				StatusCode:    http.StatusConflict,
				Message:       fmt.Sprintf("%s %s/%s conflicts with a newer server version", op, collection, id),
				ServerPayload: payload,
			}
		}
	}
	return nil
}

// Insert creates a row. An existing id is a conflict.
func (m *MemoryBackend) Insert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error) {
	row, err := toMap(record)
	if err != nil {
		return nil, err
	}
	if rowID(row) == "" {
		row["id"] = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := rowID(row)
	if err := m.begin("insert", collection, id); err != nil {
		return nil, err
	}
	if existing, ok := m.table(collection)[id]; ok {
		data, _ := json.Marshal(existing)
		return nil, &RemoteError{Op: "insert", Collection: collection, StatusCode: http.StatusConflict,
			Message: fmt.Sprintf("duplicate key %s/%s", collection, id), ServerPayload: data}
	}
	m.table(collection)[id] = row
	return json.Marshal(row)
}

// Upsert creates or merges a row.
func (m *MemoryBackend) Upsert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error) {
	row, err := toMap(record)
	if err != nil {
		return nil, err
	}
	if rowID(row) == "" {
		row["id"] = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := rowID(row)
	if err := m.begin("upsert", collection, id); err != nil {
		return nil, err
	}
	merged := m.table(collection)[id]
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range row {
		merged[k] = v
	}
	m.table(collection)[id] = merged
	return json.Marshal(merged)
}

// Update merges fields into the row with id.
func (m *MemoryBackend) Update(ctx context.Context, collection, id string, fields interface{}) (json.RawMessage, error) {
	patch, err := toMap(fields)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("update", collection, id); err != nil {
		return nil, err
	}
	row, ok := m.table(collection)[id]
	if !ok {
		return nil, &RemoteError{Op: "update", Collection: collection, StatusCode: http.StatusNotFound,
			Message: fmt.Sprintf("%s/%s not found", collection, id)}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	return json.Marshal(row)
}

// Delete removes a row. Missing rows are not an error.
func (m *MemoryBackend) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("delete", collection, id); err != nil {
		return err
	}
	delete(m.table(collection), id)
	return nil
}

// Select returns matching rows.
func (m *MemoryBackend) Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("select", collection, ""); err != nil {
		return nil, err
	}

	var matched []map[string]interface{}
	for _, row := range m.table(collection) {
		if matches(row, q.Filters) {
			matched = append(matched, row)
		}
	}

	sortKey := q.OrderBy
	if sortKey == "" {
		sortKey = "id"
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := fmt.Sprint(matched[i][sortKey]), fmt.Sprint(matched[j][sortKey])
		if q.Desc {
			return a > b
		}
		return a < b
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, row := range matched {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func matches(row map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Field]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func toMap(record interface{}) (map[string]interface{}, error) {
	var data []byte
	switch r := record.(type) {
	case json.RawMessage:
		data = r
	case []byte:
		data = r
	default:
		var err error
		data, err = json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
	}
	row := make(map[string]interface{})
	if len(data) == 0 {
		return row, nil
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	return row, nil
}

func rowID(row map[string]interface{}) string {
	id, _ := row["id"].(string)
	return id
}
