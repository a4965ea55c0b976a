package objectstore

import (
	"context"
	"strings"
	"sync"
)

// Object is a stored object in a MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore is an in-process Store for tests and demos.
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]Object
	fail    map[string]error
	uploads int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore whose public URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]Object),
		fail:    make(map[string]error),
	}
}

// FailOn makes uploads whose path contains substr return err. A nil err clears it.
func (m *MemoryStore) FailOn(substr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, substr)
		return
	}
	m.fail[substr] = err
}

// Upload stores a copy of data.
func (m *MemoryStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	for substr, err := range m.fail {
		if strings.Contains(path, substr) {
			return err
		}
	}
	m.objects[path] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// PublicURL returns baseURL/path.
func (m *MemoryStore) PublicURL(path string) string {
	return m.baseURL + "/" + path
}

// Get returns a stored object.
func (m *MemoryStore) Get(path string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	return obj, ok
}

// Uploads returns the number of upload attempts.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Paths returns every stored path.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	return paths
}
