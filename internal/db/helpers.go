package db

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/gridops/fieldsync/internal/errors"
)

// Get loads one record of type T.
func Get[T any](ctx context.Context, s Session, table Table, id string) (T, error) {
	var out T
	err := s.Get(ctx, table, id, &out)
	return out, err
}

// Find is like Get but reports a missing record as (zero, false, nil).
func Find[T any](ctx context.Context, s Session, table Table, id string) (T, bool, error) {
	out, err := Get[T](ctx, s, table, id)
	if apperrors.IsNotFound(err) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

// QueryAs runs an index lookup and decodes the results.
func QueryAs[T any](ctx context.Context, s Session, table Table, index string, values ...interface{}) ([]T, error) {
	docs, err := s.Query(ctx, table, index, values...)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](table, docs)
}

// AllAs returns every record of table decoded as T.
func AllAs[T any](ctx context.Context, s Session, table Table) ([]T, error) {
	docs, err := s.All(ctx, table)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](table, docs)
}

// BulkPutAll writes a typed slice.
func BulkPutAll[T Record](ctx context.Context, s Session, table Table, items []T) error {
	records := make([]Record, len(items))
	for i, item := range items {
		records[i] = item
	}
	return s.BulkPut(ctx, table, records...)
}

func decodeAll[T any](table Table, docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, apperrors.LocalStorage(fmt.Sprintf("decode %s", table), err)
		}
		out = append(out, item)
	}
	return out, nil
}
