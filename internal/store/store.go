// Package store defines the event store contracts and the tiered
// orchestration over a durable warm backend and a hot cache.
package store

import (
	"context"

	"github.com/strata-lab/strata/internal/event"
)

// EventStore is the contract consumed by the aggregate repository and by
// downstream feed consumers.
//
// Append atomically validates expectedVersion against the aggregate's
// current version (0 for a not-yet-existing aggregate), persists all
// envelopes as one indivisible unit and assigns consecutive versions plus a
// global sequence number per envelope, filling both into the passed slice.
// It returns the aggregate's new version, or a *ConcurrencyError on
// mismatch; no partial writes are observable.
//
// Load returns envelopes in [fromVersion, toVersion] ordered by version
// ascending; toVersion = 0 means open-ended. A missing aggregate yields an
// empty stream, not an error.
//
// LoadFromSequence returns up to limit envelopes with a sequence number
// strictly greater than fromSequence, in commit order, for building a
// global ordered feed.
type EventStore interface {
	Append(ctx context.Context, aggregateID, aggregateType string, envelopes []event.Envelope, expectedVersion int64) (int64, error)
	Load(ctx context.Context, aggregateID string, fromVersion, toVersion int64) (*event.Stream, error)
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)
	Exists(ctx context.Context, aggregateID string) (bool, error)
	LoadFromSequence(ctx context.Context, fromSequence int64, limit int) ([]event.Envelope, error)
}

// BatchReader is implemented by warm backends that can answer multi-
// aggregate reads in one round trip, avoiding N+1 access patterns during
// bulk projection rebuilds.
type BatchReader interface {
	LoadBatch(ctx context.Context, aggregateIDs []string, fromVersion, toVersion int64) (map[string]*event.Stream, error)
	CurrentVersionBatch(ctx context.Context, aggregateIDs []string) (map[string]int64, error)
}

// Publisher receives committed envelopes after a successful warm append.
// Publishing is best-effort: failures are logged by the caller and never
// affect durability.
type Publisher interface {
	Publish(ctx context.Context, envelopes []event.Envelope) error
}
