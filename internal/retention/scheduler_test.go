package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/snapshot"
)

func seedSnapshots(t *testing.T, store *snapshot.MemoryStore, aggregateID string, versions ...int64) {
	t.Helper()
	for _, v := range versions {
		require.NoError(t, store.Save(context.Background(), event.Snapshot{
			AggregateID:   aggregateID,
			AggregateType: "ledger.account",
			Version:       v,
			State:         []byte(`{}`),
			CreatedAt:     time.Now(),
		}))
	}
}

func TestScheduler_FinalSweepOnShutdown(t *testing.T) {
	store := snapshot.NewMemoryStore()
	seedSnapshots(t, store, "acct-1", 10, 20, 30, 40, 50)
	seedSnapshots(t, store, "acct-2", 5, 15)

	s := NewScheduler(time.Hour, 2, 4, store)

	// A cancelled context skips the ticker loop and runs the shutdown
	// sweep immediately.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Start(ctx))

	gone, err := store.LoadAtVersion(context.Background(), "acct-1", 39)
	require.NoError(t, err)
	require.Nil(t, gone)

	kept, err := store.LoadAtVersion(context.Background(), "acct-1", 40)
	require.NoError(t, err)
	require.NotNil(t, kept)

	// acct-2 was already within the limit.
	oldest, err := store.LoadAtVersion(context.Background(), "acct-2", 5)
	require.NoError(t, err)
	require.NotNil(t, oldest)
}

func TestScheduler_PeriodicSweep(t *testing.T) {
	store := snapshot.NewMemoryStore()
	seedSnapshots(t, store, "acct-1", 1, 2, 3)

	s := NewScheduler(10*time.Millisecond, 1, 2, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		snap, err := store.LoadAtVersion(context.Background(), "acct-1", 2)
		return err == nil && snap == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	latest, err := store.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(3), latest.Version)
}

func TestScheduler_DefaultWorkerCount(t *testing.T) {
	s := NewScheduler(time.Minute, 3, 0, snapshot.NewMemoryStore())
	require.Equal(t, 4, s.workers)
}
