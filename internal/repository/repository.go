package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/strata-lab/strata/internal/codec"
	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/snapshot"
	"github.com/strata-lab/strata/internal/store"
)

// Repository materializes aggregates from snapshots plus event replay and
// persists their pending events with optimistic concurrency. It never
// retries a ConcurrencyError: the conflict propagates unchanged and the
// retry decision stays with the caller (see RetryConflict).
type Repository struct {
	store     store.EventStore
	snapshots snapshot.Store
	strategy  snapshot.Strategy
	codec     *codec.Codec

	now func() time.Time
}

// New wires the repository. strategy may be nil, which disables automatic
// snapshotting.
func New(eventStore store.EventStore, snapshots snapshot.Store, strategy snapshot.Strategy, c *codec.Codec) *Repository {
	return &Repository{
		store:     eventStore,
		snapshots: snapshots,
		strategy:  strategy,
		codec:     c,
		now:       time.Now,
	}
}

// Load materializes the aggregate at its current version: restore the
// latest snapshot when one exists, then replay only the events after it.
func (r *Repository) Load(ctx context.Context, agg Aggregate) error {
	return r.load(ctx, agg, 0)
}

// LoadAt materializes the aggregate as of the given version, preferring the
// highest snapshot not exceeding it. version = 0 means current.
func (r *Repository) LoadAt(ctx context.Context, agg Aggregate, version int64) error {
	return r.load(ctx, agg, version)
}

func (r *Repository) load(ctx context.Context, agg Aggregate, toVersion int64) error {
	id := agg.AggregateID()

	snap, err := r.loadSnapshot(ctx, id, toVersion)
	if err != nil {
		return err
	}

	fromVersion := int64(1)
	if snap != nil {
		current, err := r.store.CurrentVersion(ctx, id)
		if err != nil {
			return err
		}
		if snap.Version > current {
			return &SnapshotInconsistencyError{
				AggregateID:     id,
				SnapshotVersion: snap.Version,
				StreamVersion:   current,
			}
		}

		if err := restoreState(agg, snap.State); err != nil {
			return fmt.Errorf("failed to restore snapshot for aggregate %q: %w", id, err)
		}
		agg.SetVersion(snap.Version)
		fromVersion = snap.Version + 1
	}

	stream, err := r.store.Load(ctx, id, fromVersion, toVersion)
	if err != nil {
		return err
	}

	for _, env := range stream.Envelopes() {
		evt, err := r.codec.Deserialize(env)
		if err != nil {
			return fmt.Errorf("failed to deserialize event at version %d of aggregate %q: %w", env.Version, id, err)
		}
		if err := agg.ApplyEvent(evt); err != nil {
			return fmt.Errorf("failed to apply event at version %d of aggregate %q: %w", env.Version, id, err)
		}
		agg.SetVersion(env.Version)
	}

	if obs, ok := r.strategy.(snapshot.Observer); ok {
		obs.RecordAccess(id)
	}
	return nil
}

func (r *Repository) loadSnapshot(ctx context.Context, aggregateID string, toVersion int64) (*event.Snapshot, error) {
	if toVersion > 0 {
		return r.snapshots.LoadAtVersion(ctx, aggregateID, toVersion)
	}
	return r.snapshots.Load(ctx, aggregateID)
}

// SaveOption adjusts one Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	metadata event.Metadata
}

// WithMetadata stamps every envelope of this save with the given metadata.
func WithMetadata(meta event.Metadata) SaveOption {
	return func(o *saveOptions) { o.metadata = meta }
}

// Save appends the aggregate's pending events with the last-known version
// as the optimistic expectation, folds them into state on success, and
// captures a snapshot when the strategy says one is due. A nil error means
// every pending event is durable.
func (r *Repository) Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error {
	pending := agg.UncommittedEvents()
	if len(pending) == 0 {
		return nil
	}

	var options saveOptions
	for _, opt := range opts {
		opt(&options)
	}

	id := agg.AggregateID()
	occurredAt := r.now()

	envelopes := make([]event.Envelope, len(pending))
	for i, evt := range pending {
		env, err := r.codec.Serialize(id, agg.AggregateType(), evt, options.metadata, occurredAt)
		if err != nil {
			return fmt.Errorf("failed to serialize pending event %d of aggregate %q: %w", i, id, err)
		}
		envelopes[i] = env
	}

	newVersion, err := r.store.Append(ctx, id, agg.AggregateType(), envelopes, agg.Version())
	if err != nil {
		return err
	}

	for i, evt := range pending {
		if err := agg.ApplyEvent(evt); err != nil {
			// The events are durable; only the in-memory fold failed.
			// Reloading is the caller's safe recovery.
			return fmt.Errorf("failed to fold committed event %d of aggregate %q: %w", i, id, err)
		}
	}
	agg.SetVersion(newVersion)
	agg.ClearUncommittedEvents()

	if obs, ok := r.strategy.(snapshot.Observer); ok {
		for _, env := range envelopes {
			obs.RecordPayload(id, len(env.Payload))
		}
	}

	r.maybeSnapshot(ctx, agg, newVersion)
	return nil
}

// maybeSnapshot consults the strategy and stores a snapshot when due.
// Snapshot failures degrade replay cost, not correctness, so they are
// logged and absorbed.
func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate, newVersion int64) {
	if r.strategy == nil {
		return
	}
	id := agg.AggregateID()

	var lastSnapshotVersion int64
	if snap, err := r.snapshots.Load(ctx, id); err != nil {
		slog.Warn("[Repository] Snapshot lookup failed, skipping snapshot decision",
			"aggregate_id", id, "error", err)
		return
	} else if snap != nil {
		lastSnapshotVersion = snap.Version
	}

	eventsSince := newVersion - lastSnapshotVersion
	if !r.strategy.ShouldSnapshot(id, newVersion, eventsSince) {
		return
	}

	state, err := snapshotState(agg)
	if err != nil {
		slog.Warn("[Repository] Failed to capture aggregate state for snapshot",
			"aggregate_id", id, "version", newVersion, "error", err)
		return
	}

	snap := event.Snapshot{
		AggregateID:   id,
		AggregateType: agg.AggregateType(),
		Version:       newVersion,
		State:         state,
		CreatedAt:     r.now(),
	}
	if err := r.snapshots.Save(ctx, snap); err != nil {
		slog.Warn("[Repository] Failed to save snapshot",
			"aggregate_id", id, "version", newVersion, "error", err)
		return
	}

	slog.Debug("[Repository] Captured snapshot",
		"aggregate_id", id,
		"version", newVersion,
		"events_since_last", eventsSince)
}

func snapshotState(agg Aggregate) ([]byte, error) {
	if s, ok := agg.(Snapshottable); ok {
		return s.SnapshotState()
	}
	return json.Marshal(agg)
}

func restoreState(agg Aggregate, state []byte) error {
	if s, ok := agg.(Snapshottable); ok {
		return s.RestoreSnapshot(state)
	}
	return json.Unmarshal(state, agg)
}
