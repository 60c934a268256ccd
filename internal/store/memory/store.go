// Package memory provides an in-memory warm store. It is the reference
// implementation of the append semantics and the default backend for tests
// and local development; the serialization point required by the
// compare-and-append contract is a process-wide mutex.
package memory

import (
	"context"
	"sync"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/store"
)

// Store is a thread-safe in-memory event log with a global commit order.
type Store struct {
	mu        sync.RWMutex
	sequencer *store.Sequencer
	streams   map[string][]event.Envelope
	global    []event.Envelope
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sequencer: store.NewSequencer(0),
		streams:   make(map[string][]event.Envelope),
	}
}

// Append implements store.EventStore. The mutex makes the compare-and-
// append one atomic unit; versions and sequence numbers are filled into the
// passed envelopes.
func (s *Store) Append(_ context.Context, aggregateID, aggregateType string, envelopes []event.Envelope, expectedVersion int64) (int64, error) {
	if len(envelopes) == 0 {
		return 0, store.ErrNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(len(s.streams[aggregateID]))
	if err := s.sequencer.ValidateExpected(aggregateID, current, expectedVersion); err != nil {
		return 0, err
	}

	versions := s.sequencer.PlanVersions(current, len(envelopes))
	for i := range envelopes {
		envelopes[i].AggregateID = aggregateID
		envelopes[i].AggregateType = aggregateType
		envelopes[i].Version = versions[i]
		envelopes[i].SequenceNumber = s.sequencer.NextSequence()
	}

	s.streams[aggregateID] = append(s.streams[aggregateID], envelopes...)
	s.global = append(s.global, envelopes...)

	return versions[len(versions)-1], nil
}

// Load implements store.EventStore.
func (s *Store) Load(_ context.Context, aggregateID string, fromVersion, toVersion int64) (*event.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked(aggregateID, fromVersion, toVersion), nil
}

func (s *Store) loadLocked(aggregateID string, fromVersion, toVersion int64) *event.Stream {
	all, ok := s.streams[aggregateID]
	if !ok {
		return event.EmptyStream(aggregateID)
	}

	var out []event.Envelope
	for _, env := range all {
		if env.Version < fromVersion {
			continue
		}
		if toVersion > 0 && env.Version > toVersion {
			break
		}
		out = append(out, env)
	}
	return event.NewStream(aggregateID, out)
}

// CurrentVersion implements store.EventStore; 0 when the aggregate is
// absent.
func (s *Store) CurrentVersion(_ context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[aggregateID])), nil
}

// Exists implements store.EventStore.
func (s *Store) Exists(_ context.Context, aggregateID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[aggregateID]) > 0, nil
}

// LoadFromSequence implements store.EventStore.
func (s *Store) LoadFromSequence(_ context.Context, fromSequence int64, limit int) ([]event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Envelope
	for _, env := range s.global {
		if env.SequenceNumber <= fromSequence {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LoadBatch implements store.BatchReader.
func (s *Store) LoadBatch(_ context.Context, aggregateIDs []string, fromVersion, toVersion int64) (map[string]*event.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*event.Stream, len(aggregateIDs))
	for _, id := range aggregateIDs {
		out[id] = s.loadLocked(id, fromVersion, toVersion)
	}
	return out, nil
}

// CurrentVersionBatch implements store.BatchReader.
func (s *Store) CurrentVersionBatch(_ context.Context, aggregateIDs []string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(aggregateIDs))
	for _, id := range aggregateIDs {
		out[id] = int64(len(s.streams[id]))
	}
	return out, nil
}

var (
	_ store.EventStore  = (*Store)(nil)
	_ store.BatchReader = (*Store)(nil)
)
