// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing. All
// operations, including Claim, are serialized by a single mutex, which
// gives the same atomicity guarantees as the SQLite implementation.
type MockStore struct {
	mu    sync.RWMutex
	nodes map[string]json.RawMessage // keyed by full path
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		nodes: make(map[string]json.RawMessage),
	}
}

// Get reads the value at path into out.
func (m *MockStore) Get(ctx context.Context, path string, out any) error {
	m.mu.RLock()
	raw, ok := m.nodes[path]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Set writes the value at path.
func (m *MockStore) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	m.mu.Lock()
	m.nodes[path] = raw
	m.mu.Unlock()
	return nil
}

// Update merges fields into the JSON object at path.
func (m *MockStore) Update(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := make(map[string]any)
	if raw, ok := m.nodes[path]; ok {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	m.nodes[path] = raw
	return nil
}

// Delete removes the value at path along with any descendants.
func (m *MockStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := path + "/"
	for p := range m.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
		}
	}
	return nil
}

// Push appends v as a new uniquely-keyed child of path.
func (m *MockStore) Push(ctx context.Context, path string, v any) (string, error) {
	key := uuid.New().String()
	if err := m.Set(ctx, path+"/"+key, v); err != nil {
		return "", err
	}
	return key, nil
}

// Subtree returns every leaf under prefix keyed by relative path.
func (m *MockStore) Subtree(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := prefix + "/"
	out := make(map[string]json.RawMessage)
	for path, raw := range m.nodes {
		if strings.HasPrefix(path, p) {
			// Copy so callers can't observe later mutations
			cp := make(json.RawMessage, len(raw))
			copy(cp, raw)
			out[path[len(p):]] = cp
		}
	}
	return out, nil
}

// Claim atomically flips the named boolean field to true if it is absent
// or false, under the store mutex.
func (m *MockStore) Claim(ctx context.Context, path string, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.nodes[path]
	if !ok {
		return false, nil
	}
	obj := make(map[string]any)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false, fmt.Errorf("decoding %s: %w", path, err)
	}
	if claimed, _ := obj[field].(bool); claimed {
		return false, nil
	}
	obj[field] = true
	updated, err := json.Marshal(obj)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", path, err)
	}
	m.nodes[path] = updated
	return true, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
