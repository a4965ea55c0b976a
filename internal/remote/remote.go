// Package remote defines the narrow capabilities the sync engine needs from the remote
// backend, treated as an opaque CRUD service over named collections.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Inserter inserts one record and returns the stored row.
type Inserter interface {
	Insert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error)
}

// Upserter inserts or merges one record by primary key.
type Upserter interface {
	Upsert(ctx context.Context, collection string, record interface{}) (json.RawMessage, error)
}

// Updater updates the row with id and returns it.
type Updater interface {
	Update(ctx context.Context, collection, id string, fields interface{}) (json.RawMessage, error)
}

// Selector returns the rows matching q.
type Selector interface {
	Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
}

// Deleter removes the row with id.
type Deleter interface {
	Delete(ctx context.Context, collection, id string) error
}

// Backend is the full set of capabilities.
type Backend interface {
	Inserter
	Upserter
	Updater
	Selector
	Deleter
}

// Filter is an equality condition on one field.
type Filter struct {
	Field string
	Value interface{}
}

// Query filters and orders a select.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where returns a query with equality filters built from field/value pairs.
func Where(pairs ...interface{}) Query {
	var q Query
	for i := 0; i+1 < len(pairs); i += 2 {
		field, _ := pairs[i].(string)
		q.Filters = append(q.Filters, Filter{Field: field, Value: pairs[i+1]})
	}
	return q
}

// Order returns q sorted by field.
func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

// First returns q limited to n rows.
func (q Query) First(n int) Query {
	q.Limit = n
	return q
}

// RemoteError is a failure reported by the backend.
type RemoteError struct {
	Op            string
	Collection    string
	StatusCode    int
	Message       string
	ServerPayload json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("remote %s %s failed with status %d", e.Op, e.Collection, e.StatusCode)
}

// IsConflict reports whether the backend rejected the write as stale.
func (e *RemoteError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
}

// AsConflict returns the RemoteError in err's chain when it is a conflict.
func AsConflict(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.IsConflict() {
		return re, true
	}
	return nil, false
}

// InsertAs inserts record and decodes the stored row.
func InsertAs[T any](ctx context.Context, ins Inserter, collection string, record interface{}) (T, error) {
	var out T
	row, err := ins.Insert(ctx, collection, record)
	if err != nil {
		return out, err
	}
	return decode[T](collection, row)
}

// UpdateAs updates a row and decodes the result.
func UpdateAs[T any](ctx context.Context, up Updater, collection, id string, fields interface{}) (T, error) {
	var out T
	row, err := up.Update(ctx, collection, id, fields)
	if err != nil {
		return out, err
	}
	return decode[T](collection, row)
}

// SelectAs selects rows and decodes them.
func SelectAs[T any](ctx context.Context, sel Selector, collection string, q Query) ([]T, error) {
	rows, err := sel.Select(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		item, err := decode[T](collection, row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func decode[T any](collection string, row json.RawMessage) (T, error) {
	var out T
	if len(row) == 0 {
		return out, &RemoteError{Op: "decode", Collection: collection, Message: fmt.Sprintf("empty response from %s", collection)}
	}
	if err := json.Unmarshal(row, &out); err != nil {
		return out, fmt.Errorf("decode %s row: %w", collection, err)
	}
	return out, nil
}
