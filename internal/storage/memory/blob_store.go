// Package memory holds in-process implementations of the repository and the
// snapshot blob store, used for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu     sync.RWMutex
	prefix string
	data   map[string][]byte
}

// NewBlobStore creates a new in-memory blob store. Objects are keyed under prefix.
func NewBlobStore(prefix string) *BlobStore {
	return &BlobStore{
		prefix: strings.Trim(prefix, "/"),
		data:   make(map[string][]byte),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	key := path.Join(s.prefix, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = byteData
	return fmt.Sprintf("memory://%s", key), nil
}

// Object returns a copy of the stored object.
func (s *BlobStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Keys lists stored object keys in lexical order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
