// Package storage keeps photo blobs on local disk, addressed by their SHA-256 checksum.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore stores blobs at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
// Identical content is stored once.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{baseDir: baseDir}
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsChecksum reports whether s has the shape of a hex SHA-256 digest.
func IsChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// Put stores data and returns its checksum. Writes go through a temp file and rename so a
// crash never leaves a partial blob under its final name.
func (s *BlobStore) Put(data []byte) (string, error) {
	hash := Checksum(data)
	path := s.path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, hash+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

// Get reads a blob and verifies its checksum.
func (s *BlobStore) Get(hash string) ([]byte, error) {
	if !IsChecksum(hash) {
		return nil, fmt.Errorf("invalid checksum %q", hash)
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if got := Checksum(data); got != hash {
		return nil, fmt.Errorf("hash mismatch: expected %s, got %s", hash, got)
	}
	return data, nil
}

// Exists checks if a blob exists for hash.
func (s *BlobStore) Exists(hash string) bool {
	if !IsChecksum(hash) {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Size returns the stored size of a blob in bytes.
func (s *BlobStore) Size(hash string) (int64, error) {
	if !IsChecksum(hash) {
		return 0, fmt.Errorf("invalid checksum %q", hash)
	}
	info, err := os.Stat(s.path(hash))
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *BlobStore) Delete(hash string) error {
	if !IsChecksum(hash) {
		return fmt.Errorf("invalid checksum %q", hash)
	}
	path := s.path(hash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	// drop empty fan-out directories, errors ignored
	dir := filepath.Dir(path)
	_ = os.Remove(dir)
	_ = os.Remove(filepath.Dir(dir))
	return nil
}

// List returns the checksum of every stored blob.
func (s *BlobStore) List() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.baseDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name := d.Name(); IsChecksum(name) {
			hashes = append(hashes, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage: %w", err)
	}
	return hashes, nil
}

// Verify re-hashes every blob and returns the corrupted ones.
func (s *BlobStore) Verify() ([]string, error) {
	hashes, err := s.List()
	if err != nil {
		return nil, err
	}
	var corrupted []string
	for _, hash := range hashes {
		if _, err := s.Get(hash); err != nil {
			corrupted = append(corrupted, hash)
		}
	}
	return corrupted, nil
}

// Path returns the file system path for hash.
func (s *BlobStore) Path(hash string) string {
	return s.path(hash)
}

func (s *BlobStore) path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}
