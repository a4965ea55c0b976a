// Package db implements the local durable store: SQLite-backed tables of JSON documents
// with declared indexes and scoped transactions.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "fieldsync.db"

// busyTimeoutMS bounds how long a connection waits on a locked database file.
const busyTimeoutMS = 5000

// DB wraps the sql.DB with fieldsync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database in dataDir.
// The database is opened with:
// - WAL journal
// - synchronous=FULL so every committed write is on disk before it returns
// - a busy timeout
// - a single connection, which serializes writers
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	pragmas := url.Values{}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(FULL)")
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	pragmas.Add("_pragma", "foreign_keys(ON)")

	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read journal mode: %w", err)
	}
	if journal != "wal" {
		db.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got %q", journal)
	}

	return &DB{db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
