package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"

	apperrors "github.com/gridops/fieldsync/internal/errors"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = apperrors.New(apperrors.ErrNotFound, "record not found")

	// ErrTableNotInScope is returned when a transaction touches a table it did not declare.
	ErrTableNotInScope = apperrors.New(apperrors.ErrLocalStorage, "table not in transaction scope")
)

// Record is anything that can be stored as a document.
type Record interface {
	RecordID() string
}

// Doc is an untyped document. Its id is the "id" field.
type Doc map[string]interface{}

// RecordID returns the "id" field.
func (d Doc) RecordID() string {
	id, _ := d["id"].(string)
	return id
}

// Session is the set of operations available on the store and inside a transaction.
// All writes are durable when the call returns, or when the enclosing transaction commits.
type Session interface {
	Get(ctx context.Context, table Table, id string, dest interface{}) error
	Put(ctx context.Context, table Table, record Record) (string, error)
	BulkPut(ctx context.Context, table Table, records ...Record) error
	Query(ctx context.Context, table Table, index string, values ...interface{}) ([]json.RawMessage, error)
	Count(ctx context.Context, table Table, index string, values ...interface{}) (int, error)
	All(ctx context.Context, table Table) ([]json.RawMessage, error)
	Delete(ctx context.Context, table Table, id string) error
	Clear(ctx context.Context, table Table) error
	Patch(ctx context.Context, table Table, id string, fields map[string]interface{}) error
	NextSequence(ctx context.Context, name string) (int64, error)
	Transaction(ctx context.Context, tables []Table, fn func(Session) error) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the local durable store.
type Store struct {
	db *DB
	ops
}

// tx is the Session handed to a transaction closure.
type tx struct {
	ops
}

var (
	_ Session = (*Store)(nil)
	_ Session = (*tx)(nil)
)

// OpenStore opens the database in dataDir and applies the embedded migrations.
func OpenStore(dataDir string) (*Store, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, apperrors.LocalStorage("open local store", err)
	}

	m := NewMigrator(database.DB, Migrations())
	if err := m.Initialize(); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "initialize migrations", err)
	}
	if err := m.Up(); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "apply migrations", err)
	}

	return &Store{db: database, ops: ops{q: database.DB}}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction runs fn inside one SQLite transaction scoped to tables.
// Every operation fn performs must go through the Session it receives; calling the Store
// itself from inside fn blocks on the single connection.
func (s *Store) Transaction(ctx context.Context, tables []Table, fn func(Session) error) (err error) {
	scope, err := newScope(tables)
	if err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.LocalStorage("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		if cerr := sqlTx.Commit(); cerr != nil {
			err = apperrors.LocalStorage("commit transaction", cerr)
		}
	}()

	return fn(&tx{ops: ops{q: sqlTx, scope: scope}})
}

// Transaction on an open transaction runs fn inline. tables must be a subset of the outer scope.
func (t *tx) Transaction(ctx context.Context, tables []Table, fn func(Session) error) error {
	for _, table := range tables {
		if err := t.check(table); err != nil {
			return err
		}
	}
	return fn(t)
}

func newScope(tables []Table) (map[Table]bool, error) {
	scope := make(map[Table]bool, len(tables))
	for _, table := range tables {
		if !table.Valid() {
			return nil, fmt.Errorf("unknown table %q", table)
		}
		scope[table] = true
	}
	return scope, nil
}

// ops implements the document operations over a querier.
// A nil scope allows every table.
type ops struct {
	q     querier
	scope map[Table]bool
}

func (o ops) check(table Table) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	if o.scope != nil && !o.scope[table] {
		return fmt.Errorf("%w: %s", ErrTableNotInScope, table)
	}
	return nil
}

// Get loads the record with id into dest.
func (o ops) Get(ctx context.Context, table Table, id string, dest interface{}) error {
	if err := o.check(table); err != nil {
		return err
	}

	var data string
	err := o.q.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table), id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	if err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("get %s/%s", table, id), err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("decode %s/%s", table, id), err)
	}
	return nil
}

// Put inserts or replaces record and returns its id.
func (o ops) Put(ctx context.Context, table Table, record Record) (string, error) {
	if err := o.check(table); err != nil {
		return "", err
	}
	if err := o.put(ctx, table, record); err != nil {
		return "", err
	}
	return record.RecordID(), nil
}

func (o ops) put(ctx context.Context, table Table, record Record) error {
	id := record.RecordID()
	if id == "" {
		return apperrors.LocalStorage(fmt.Sprintf("put %s", table), stderrors.New("record has no id"))
	}

	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("encode %s/%s", table, id), err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, table)
	if _, err := o.q.ExecContext(ctx, query, id, string(data)); err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("put %s/%s", table, id), err)
	}
	return nil
}

// BulkPut writes every record. Outside a transaction the writes are not atomic.
func (o ops) BulkPut(ctx context.Context, table Table, records ...Record) error {
	if err := o.check(table); err != nil {
		return err
	}
	for _, record := range records {
		if err := o.put(ctx, table, record); err != nil {
			return err
		}
	}
	return nil
}

// Query returns the documents whose index fields equal values, ordered by id.
func (o ops) Query(ctx context.Context, table Table, index string, values ...interface{}) ([]json.RawMessage, error) {
	where, args, err := o.where(table, index, values)
	if err != nil {
		return nil, err
	}
	return o.list(ctx, table, fmt.Sprintf("SELECT data FROM %s WHERE %s ORDER BY id", table, where), args...)
}

// Count returns how many documents match an index lookup. An empty index counts the table.
func (o ops) Count(ctx context.Context, table Table, index string, values ...interface{}) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	var args []interface{}
	if index != "" {
		where, whereArgs, err := o.where(table, index, values)
		if err != nil {
			return 0, err
		}
		query += " WHERE " + where
		args = whereArgs
	} else if err := o.check(table); err != nil {
		return 0, err
	}

	var n int
	if err := o.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, apperrors.LocalStorage(fmt.Sprintf("count %s", table), err)
	}
	return n, nil
}

func (o ops) where(table Table, index string, values []interface{}) (string, []interface{}, error) {
	if err := o.check(table); err != nil {
		return "", nil, err
	}
	fields := table.indexFields(index)
	if fields == nil {
		return "", nil, fmt.Errorf("table %s has no index %q", table, index)
	}
	if len(values) != len(fields) {
		return "", nil, fmt.Errorf("index %s.%s takes %d values, got %d", table, index, len(fields), len(values))
	}

	clause := ""
	args := make([]interface{}, len(values))
	for i, field := range fields {
		if i > 0 {
			clause += " AND "
		}
		clause += fmt.Sprintf("json_extract(data, '$.%s') = ?", field)
		args[i] = normalize(values[i])
	}
	return clause, args, nil
}

// All returns every document in table, ordered by id.
func (o ops) All(ctx context.Context, table Table) ([]json.RawMessage, error) {
	if err := o.check(table); err != nil {
		return nil, err
	}
	return o.list(ctx, table, fmt.Sprintf("SELECT data FROM %s ORDER BY id", table))
}

func (o ops) list(ctx context.Context, table Table, query string, args ...interface{}) ([]json.RawMessage, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.LocalStorage(fmt.Sprintf("query %s", table), err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, apperrors.LocalStorage(fmt.Sprintf("scan %s", table), err)
		}
		docs = append(docs, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.LocalStorage(fmt.Sprintf("query %s", table), err)
	}
	return docs, nil
}

// Delete removes the record with id. Deleting a missing record is not an error.
func (o ops) Delete(ctx context.Context, table Table, id string) error {
	if err := o.check(table); err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("delete %s/%s", table, id), err)
	}
	return nil
}

// Clear removes every record in table.
func (o ops) Clear(ctx context.Context, table Table) error {
	if err := o.check(table); err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("clear %s", table), err)
	}
	return nil
}

// Patch merges fields into the stored document (RFC 7396). A nil value removes the field.
func (o ops) Patch(ctx context.Context, table Table, id string, fields map[string]interface{}) error {
	if err := o.check(table); err != nil {
		return err
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("encode patch %s/%s", table, id), err)
	}

	res, err := o.q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET data = json_patch(data, ?) WHERE id = ?", table), string(patch), id)
	if err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("patch %s/%s", table, id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.LocalStorage(fmt.Sprintf("patch %s/%s", table, id), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return nil
}

// NextSequence returns the next value of the named counter, starting at 1.
func (o ops) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := o.q.QueryRowContext(ctx, `INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, apperrors.LocalStorage(fmt.Sprintf("next sequence %s", name), err)
	}
	return value, nil
}

// normalize converts index values to the types json_extract produces.
func normalize(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return int64(1)
		}
		return int64(0)
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}
