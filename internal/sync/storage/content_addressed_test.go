// Package storage tests for the content-addressed blob store.
package storage

import (
	"os"
	"path/filepath"
	"testing"
)

// =====================================================
// Checksum Tests
// =====================================================

// TestChecksum_empty verifies the known digest of empty input.
func TestChecksum_empty(t *testing.T) {
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Checksum(nil); got != want {
		t.Errorf("Checksum(nil) = %q, want %q", got, want)
	}
}

// TestChecksum_uniqueness verifies different data produces different checksums.
func TestChecksum_uniqueness(t *testing.T) {
	if Checksum([]byte("photo one")) == Checksum([]byte("photo two")) {
		t.Error("Different data should produce different checksums")
	}
}

// TestIsChecksum verifies digest shape detection.
func TestIsChecksum(t *testing.T) {
	if !IsChecksum(Checksum([]byte("x"))) {
		t.Error("IsChecksum should accept a sha256 digest")
	}
	for _, bad := range []string{"", "abc", "../../etc/passwd", "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"} {
		if IsChecksum(bad) {
			t.Errorf("IsChecksum(%q) = true, want false", bad)
		}
	}
}

// =====================================================
// BlobStore Tests
// =====================================================

// TestBlobStore_PutGet verifies a round trip and the fan-out layout.
func TestBlobStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s := NewBlobStore(dir)
	data := []byte("jpeg bytes")

	hash, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if hash != Checksum(data) {
		t.Errorf("Put() hash = %q, want %q", hash, Checksum(data))
	}

	want := filepath.Join(dir, hash[0:2], hash[2:4], hash)
	if s.Path(hash) != want {
		t.Errorf("Path() = %q, want %q", s.Path(hash), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("blob not at %q: %v", want, err)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

// TestBlobStore_PutDedup verifies identical content is stored once.
func TestBlobStore_PutDedup(t *testing.T) {
	s := NewBlobStore(t.TempDir())

	h1, _ := s.Put([]byte("same"))
	h2, _ := s.Put([]byte("same"))
	if h1 != h2 {
		t.Errorf("hashes differ: %q vs %q", h1, h2)
	}

	hashes, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(hashes) != 1 {
		t.Errorf("List() len = %d, want 1", len(hashes))
	}
}

// TestBlobStore_GetMissing verifies missing and malformed lookups fail.
func TestBlobStore_GetMissing(t *testing.T) {
	s := NewBlobStore(t.TempDir())

	if _, err := s.Get(Checksum([]byte("never stored"))); err == nil {
		t.Error("Get() should fail for a missing blob")
	}
	if _, err := s.Get("../escape"); err == nil {
		t.Error("Get() should reject a malformed checksum")
	}
	if s.Exists("nope") {
		t.Error("Exists() should be false for a malformed checksum")
	}
}

// TestBlobStore_Verify verifies corruption detection.
func TestBlobStore_Verify(t *testing.T) {
	s := NewBlobStore(t.TempDir())
	good, _ := s.Put([]byte("good"))
	bad, _ := s.Put([]byte("bad"))

	if err := os.WriteFile(s.Path(bad), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	corrupted, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(corrupted) != 1 || corrupted[0] != bad {
		t.Errorf("Verify() = %v, want [%s]", corrupted, bad)
	}
	if _, err := s.Get(good); err != nil {
		t.Errorf("Get(good) error = %v", err)
	}
}

// TestBlobStore_Delete verifies removal and idempotence.
func TestBlobStore_Delete(t *testing.T) {
	s := NewBlobStore(t.TempDir())
	hash, _ := s.Put([]byte("to delete"))

	size, err := s.Size(hash)
	if err != nil || size != int64(len("to delete")) {
		t.Errorf("Size() = %d, %v", size, err)
	}

	if err := s.Delete(hash); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Exists(hash) {
		t.Error("blob still exists after Delete()")
	}
	if err := s.Delete(hash); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

// TestBlobStore_ListEmpty verifies listing a store that was never written.
func TestBlobStore_ListEmpty(t *testing.T) {
	s := NewBlobStore(filepath.Join(t.TempDir(), "missing"))
	hashes, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(hashes) != 0 {
		t.Errorf("List() = %v, want empty", hashes)
	}
}
