package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/strata-lab/strata/internal/event"
)

// MemoryStore is an in-memory snapshot store for tests and local
// development. Snapshots per aggregate are kept sorted by version.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]event.Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]event.Snapshot)}
}

// Save implements Store with upsert-by-(aggregate_id, version) semantics.
func (m *MemoryStore) Save(_ context.Context, snap event.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.snapshots[snap.AggregateID]
	for i := range existing {
		if existing[i].Version == snap.Version {
			existing[i] = snap
			return nil
		}
	}
	existing = append(existing, snap)
	sort.Slice(existing, func(i, j int) bool { return existing[i].Version < existing[j].Version })
	m.snapshots[snap.AggregateID] = existing
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, aggregateID string) (*event.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.snapshots[aggregateID]
	if len(all) == 0 {
		return nil, nil
	}
	snap := all[len(all)-1]
	return &snap, nil
}

// LoadAtVersion implements Store.
func (m *MemoryStore) LoadAtVersion(_ context.Context, aggregateID string, maxVersion int64) (*event.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.snapshots[aggregateID]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Version <= maxVersion {
			snap := all[i]
			return &snap, nil
		}
	}
	return nil, nil
}

// Cleanup implements Store.
func (m *MemoryStore) Cleanup(_ context.Context, aggregateID string, keepCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.snapshots[aggregateID]
	if keepCount <= 0 {
		delete(m.snapshots, aggregateID)
		return nil
	}
	if len(all) <= keepCount {
		return nil
	}
	m.snapshots[aggregateID] = append([]event.Snapshot(nil), all[len(all)-keepCount:]...)
	return nil
}

// AggregateIDs implements Store.
func (m *MemoryStore) AggregateIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
