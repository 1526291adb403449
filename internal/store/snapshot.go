package store

import (
	"context"
	"sync"

	"example.com/fitstate/internal/domain"
)

const snapshotVersion = 1

// snapshotDocument is the serialized form kept under a storage namespace.
type snapshotDocument struct {
	Version int          `json:"version"`
	State   domain.State `json:"state"`
	Applied []string     `json:"applied"`
}

// Snapshotter persists one serialized document per namespace.
type Snapshotter interface {
	LoadSnapshot(ctx context.Context, namespace string) ([]byte, bool, error)
	SaveSnapshot(ctx context.Context, namespace string, doc []byte) error
}

// MemorySnapshotter keeps snapshots in process memory, for tests and ephemeral stores.
type MemorySnapshotter struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	saves int
}

// NewMemorySnapshotter constructs an empty MemorySnapshotter.
func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{docs: make(map[string][]byte)}
}

// LoadSnapshot implements Snapshotter.
func (m *MemorySnapshotter) LoadSnapshot(_ context.Context, namespace string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[namespace]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), doc...), true, nil
}

// SaveSnapshot implements Snapshotter.
func (m *MemorySnapshotter) SaveSnapshot(_ context.Context, namespace string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[namespace] = append([]byte(nil), doc...)
	m.saves++
	return nil
}

// Saves returns how many snapshots were written.
func (m *MemorySnapshotter) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
