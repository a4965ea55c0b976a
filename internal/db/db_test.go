// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"testing"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(tmpDir, FileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	// synchronous=FULL is 2
	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Errorf("Failed to check synchronous: %v", err)
	}
	if synchronous != 2 {
		t.Errorf("synchronous = %d, want 2 (FULL)", synchronous)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Errorf("Failed to check busy_timeout: %v", err)
	}
	if busyTimeout != busyTimeoutMS {
		t.Errorf("busy_timeout = %d, want %d", busyTimeout, busyTimeoutMS)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	invalidPath := "/dev/null/invalid_path/that/cannot/be/created"

	if _, err := Open(invalidPath); err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestDB_reopen verifies data survives a close and reopen.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("First Open() failed: %v", err)
	}
	if _, err := db1.Exec("CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}
	if _, err := db1.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')"); err != nil {
		t.Fatalf("Failed to insert test data: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db2, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Second Open() failed: %v", err)
	}
	defer db2.Close()

	var name string
	if err := db2.QueryRow("SELECT name FROM test_table WHERE id = 1").Scan(&name); err != nil {
		t.Errorf("Failed to query test data: %v", err)
	}
	if name != "test" {
		t.Errorf("Expected 'test', got %q", name)
	}
}
