// Package postgres implements the snapshot store on PostgreSQL, sharing
// the event store's connection pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/snapshot"
	"github.com/strata-lab/strata/internal/store"
)

const (
	// querySaveSnapshot is an idempotent upsert keyed by
	// (aggregate_id, version): a replay of the same snapshot leaves one
	// record with the latest payload.
	querySaveSnapshot = `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id, version)
		DO UPDATE SET aggregate_type = $2, state = $4, created_at = $5
	`

	queryLoadLatest = `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	queryLoadAtVersion = `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1 AND version <= $2
		ORDER BY version DESC
		LIMIT 1
	`

	// queryCleanup deletes everything but the keep_count most recent
	// snapshots for one aggregate.
	queryCleanup = `
		DELETE FROM snapshots
		WHERE aggregate_id = $1
		  AND version NOT IN (
			SELECT version FROM snapshots
			WHERE aggregate_id = $1
			ORDER BY version DESC
			LIMIT $2
		  )
	`

	queryAggregateIDs = `
		SELECT DISTINCT aggregate_id FROM snapshots ORDER BY aggregate_id
	`
)

// Store implements snapshot.Store for PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing connection pool, typically the event store
// adapter's.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save implements snapshot.Store.
func (s *Store) Save(ctx context.Context, snap event.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, querySaveSnapshot,
		snap.AggregateID,
		snap.AggregateType,
		snap.Version,
		snap.State,
		snap.CreatedAt,
	)
	if err != nil {
		return unavailable("failed to save snapshot", err)
	}

	slog.Debug("[Postgres] Saved snapshot",
		"aggregate_id", snap.AggregateID,
		"version", snap.Version,
		"state_size", len(snap.State))
	return nil
}

// Load implements snapshot.Store; (nil, nil) when the aggregate has no
// snapshot.
func (s *Store) Load(ctx context.Context, aggregateID string) (*event.Snapshot, error) {
	return s.loadOne(ctx, queryLoadLatest, aggregateID)
}

// LoadAtVersion implements snapshot.Store.
func (s *Store) LoadAtVersion(ctx context.Context, aggregateID string, maxVersion int64) (*event.Snapshot, error) {
	return s.loadOne(ctx, queryLoadAtVersion, aggregateID, maxVersion)
}

func (s *Store) loadOne(ctx context.Context, query string, args ...any) (*event.Snapshot, error) {
	var snap event.Snapshot
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&snap.AggregateID,
		&snap.AggregateType,
		&snap.Version,
		&snap.State,
		&snap.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("failed to load snapshot", err)
	}
	return &snap, nil
}

// Cleanup implements snapshot.Store.
func (s *Store) Cleanup(ctx context.Context, aggregateID string, keepCount int) error {
	if keepCount < 0 {
		keepCount = 0
	}

	res, err := s.db.ExecContext(ctx, queryCleanup, aggregateID, keepCount)
	if err != nil {
		return unavailable("failed to clean up snapshots", err)
	}

	if deleted, err := res.RowsAffected(); err == nil && deleted > 0 {
		slog.Debug("[Postgres] Pruned snapshots",
			"aggregate_id", aggregateID,
			"deleted", deleted,
			"kept", keepCount)
	}
	return nil
}

// AggregateIDs implements snapshot.Store.
func (s *Store) AggregateIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryAggregateIDs)
	if err != nil {
		return nil, unavailable("failed to enumerate snapshotted aggregates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("error iterating aggregate ids", err)
	}
	return ids, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(store.ErrStorageUnavailable, err))
}

var _ snapshot.Store = (*Store)(nil)
