// Package groupcache holds per-dataset grouping and summary results that
// are expensive to compute. Ingestion only invalidates entries; readers
// recompute on a miss.
package groupcache

import (
	"context"
	"sync"
)

// Cache stores opaque summary blobs per dataset.
type Cache interface {
	Get(ctx context.Context, datasetID, name string) ([]byte, bool, error)
	Put(ctx context.Context, datasetID, name string, value []byte) error
	// Invalidate drops every entry of a dataset.
	Invalidate(ctx context.Context, datasetID string) error
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, datasetID, name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[datasetID][name]
	return v, ok, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, datasetID, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[datasetID] == nil {
		m.entries[datasetID] = make(map[string][]byte)
	}
	m.entries[datasetID][name] = append([]byte(nil), value...)
	return nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, datasetID)
	return nil
}
