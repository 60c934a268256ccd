// Package snapshot persists point-in-time aggregate state and decides when
// new snapshots are due.
package snapshot

import (
	"context"

	"github.com/strata-lab/strata/internal/event"
)

// Store persists and retrieves snapshots keyed by (aggregate_id, version).
//
// Save is an idempotent upsert: saving twice at the same key leaves exactly
// one record holding the latest payload. Load and LoadAtVersion return
// (nil, nil) when no snapshot qualifies; callers treat that as "replay from
// version 1", never as an error.
type Store interface {
	Save(ctx context.Context, snap event.Snapshot) error

	// Load returns the highest-version snapshot for the aggregate.
	Load(ctx context.Context, aggregateID string) (*event.Snapshot, error)

	// LoadAtVersion returns the highest snapshot with version <= maxVersion,
	// for point-in-time reads.
	LoadAtVersion(ctx context.Context, aggregateID string, maxVersion int64) (*event.Snapshot, error)

	// Cleanup deletes all but the keepCount most recent snapshots for the
	// aggregate, oldest first.
	Cleanup(ctx context.Context, aggregateID string, keepCount int) error

	// AggregateIDs enumerates aggregates holding at least one snapshot,
	// for retention sweeps.
	AggregateIDs(ctx context.Context) ([]string, error)
}
