package store

import "sync/atomic"

// Sequencer is the sole authority for planning (version, sequence) pairs.
// It validates optimistic-concurrency expectations and computes the
// consecutive versions for a batch. The atomicity of the compare-and-append
// itself is provided by the backing store (a unique (aggregate_id, version)
// constraint or an equivalent serialization point); the sequencer holds no
// locks across the read-then-decide-then-write boundary.
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencer creates a sequencer whose global counter resumes after
// lastSequence.
func NewSequencer(lastSequence int64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(lastSequence)
	return s
}

// ValidateExpected checks an append's expected version against the
// aggregate's current version. expected = 0 asserts the aggregate does not
// exist yet. A mismatch is a hard failure, never silently resolved.
func (s *Sequencer) ValidateExpected(aggregateID string, current, expected int64) error {
	if expected != current {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expected, Actual: current}
	}
	return nil
}

// PlanVersions returns the consecutive versions current+1 .. current+n
// assigned to a batch of n envelopes.
func (s *Sequencer) PlanVersions(current int64, n int) []int64 {
	versions := make([]int64, n)
	for i := range versions {
		versions[i] = current + int64(i) + 1
	}
	return versions
}

// NextSequence issues the next global sequence number. Used by backends
// without a storage-native counter; the postgres backend uses BIGSERIAL
// instead.
func (s *Sequencer) NextSequence() int64 {
	return s.seq.Add(1)
}
