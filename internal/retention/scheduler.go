// Package retention prunes old snapshots on a periodic schedule. Events
// are never touched: the event log is append-only and eternal; only the
// redundant older snapshots per aggregate are deleted.
package retention

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strata-lab/strata/internal/snapshot"
)

// Scheduler runs snapshot cleanup sweeps on a fixed interval. Each sweep
// enumerates snapshotted aggregates and prunes them concurrently with a
// bounded worker pool.
type Scheduler struct {
	interval  time.Duration
	keepCount int
	workers   int
	snapshots snapshot.Store
}

// NewScheduler creates a retention scheduler keeping keepCount snapshots
// per aggregate.
func NewScheduler(interval time.Duration, keepCount, workers int, snapshots snapshot.Store) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		interval:  interval,
		keepCount: keepCount,
		workers:   workers,
		snapshots: snapshots,
	}
}

// Start runs sweeps until the context is cancelled, finishing with one
// final sweep on shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Retention] Starting snapshot retention scheduler",
		"interval", s.interval,
		"keep_count", s.keepCount,
		"workers", s.workers,
	)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			slog.Info("[Retention] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.sweep(shutdownCtx)
			return nil
		}
	}
}

// sweep prunes every snapshotted aggregate once. Per-aggregate failures
// are logged and do not abort the sweep.
func (s *Scheduler) sweep(ctx context.Context) {
	ids, err := s.snapshots.AggregateIDs(ctx)
	if err != nil {
		slog.Error("[Retention] Failed to enumerate snapshotted aggregates", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, id := range ids {
		g.Go(func() error {
			if err := s.snapshots.Cleanup(ctx, id, s.keepCount); err != nil {
				slog.Warn("[Retention] Snapshot cleanup failed", "aggregate_id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	slog.Info("[Retention] Sweep complete",
		"aggregates", len(ids),
		"duration", time.Since(start),
	)
}
