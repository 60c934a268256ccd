package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-lab/strata/internal/event"
)

func snap(aggregateID string, version int64, state string) event.Snapshot {
	return event.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: "ledger.account",
		Version:       version,
		State:         []byte(state),
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_SaveAndLoadLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snap("acct-1", 10, `{"balance":"10"}`)))
	require.NoError(t, s.Save(ctx, snap("acct-1", 20, `{"balance":"20"}`)))

	latest, err := s.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(20), latest.Version)
	require.JSONEq(t, `{"balance":"20"}`, string(latest.State))
}

func TestMemoryStore_LoadAbsentIsNilNil(t *testing.T) {
	s := NewMemoryStore()

	latest, err := s.Load(context.Background(), "acct-missing")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestMemoryStore_SaveIsIdempotentUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snap("acct-1", 10, `{"balance":"10"}`)))
	require.NoError(t, s.Save(ctx, snap("acct-1", 10, `{"balance":"10b"}`)))

	latest, err := s.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), latest.Version)
	require.JSONEq(t, `{"balance":"10b"}`, string(latest.State))

	// Still exactly one record at that version.
	require.NoError(t, s.Cleanup(ctx, "acct-1", 1))
	older, err := s.LoadAtVersion(ctx, "acct-1", 9)
	require.NoError(t, err)
	require.Nil(t, older)
}

func TestMemoryStore_SaveRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	require.Error(t, s.Save(context.Background(), event.Snapshot{AggregateID: "acct-1"}))
}

func TestMemoryStore_LoadAtVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []int64{10, 20, 30} {
		require.NoError(t, s.Save(ctx, snap("acct-1", v, `{}`)))
	}

	tests := []struct {
		name       string
		maxVersion int64
		want       int64 // 0 = nil
	}{
		{name: "between snapshots picks the floor", maxVersion: 25, want: 20},
		{name: "exact version", maxVersion: 20, want: 20},
		{name: "past the newest", maxVersion: 99, want: 30},
		{name: "before the oldest", maxVersion: 9, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LoadAtVersion(ctx, "acct-1", tt.maxVersion)
			require.NoError(t, err)
			if tt.want == 0 {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tt.want, got.Version)
		})
	}
}

func TestMemoryStore_CleanupKeepsNewest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []int64{10, 20, 30, 40} {
		require.NoError(t, s.Save(ctx, snap("acct-1", v, `{}`)))
	}

	require.NoError(t, s.Cleanup(ctx, "acct-1", 2))

	gone, err := s.LoadAtVersion(ctx, "acct-1", 29)
	require.NoError(t, err)
	require.Nil(t, gone)

	kept, err := s.LoadAtVersion(ctx, "acct-1", 30)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Equal(t, int64(30), kept.Version)

	// Cleanup with fewer snapshots than keepCount is a no-op.
	require.NoError(t, s.Cleanup(ctx, "acct-1", 10))
	latest, err := s.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(40), latest.Version)
}

func TestMemoryStore_AggregateIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snap("acct-b", 1, `{}`)))
	require.NoError(t, s.Save(ctx, snap("acct-a", 1, `{}`)))

	ids, err := s.AggregateIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"acct-a", "acct-b"}, ids)
}
