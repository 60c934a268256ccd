package hot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-lab/strata/internal/event"
)

func run(aggregateID string, from, to int64) []event.Envelope {
	out := make([]event.Envelope, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, event.Envelope{
			AggregateID:   aggregateID,
			Version:       v,
			EventType:     "test.event",
			SchemaVersion: 1,
			Payload:       []byte(`{}`),
		})
	}
	return out
}

func versions(envelopes []event.Envelope) []int64 {
	out := make([]int64, len(envelopes))
	for i, env := range envelopes {
		out[i] = env.Version
	}
	return out
}

func TestCache_LoadCoverage(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Append("acct-1", run("acct-1", 3, 8))

	tests := []struct {
		name     string
		from, to int64
		want     []int64
	}{
		{name: "full run open ended", from: 3, to: 0, want: []int64{3, 4, 5, 6, 7, 8}},
		{name: "interior range", from: 4, to: 6, want: []int64{4, 5, 6}},
		{name: "from before run is a miss", from: 1, to: 5, want: nil},
		{name: "to past run is a miss", from: 4, to: 9, want: nil},
		{name: "from past run is a miss", from: 9, to: 0, want: nil},
		{name: "unknown aggregate is a miss", from: 1, to: 0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "acct-1"
			if tt.name == "unknown aggregate is a miss" {
				id = "acct-missing"
			}
			got := c.Load(id, tt.from, tt.to)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tt.want, versions(got))
		})
	}
}

func TestCache_AppendExtendsContiguousRun(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Put("acct-1", run("acct-1", 1, 3))
	c.Append("acct-1", run("acct-1", 4, 5))

	got := c.Load("acct-1", 1, 0)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, versions(got))
}

func TestCache_AppendWithGapReplacesRun(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Put("acct-1", run("acct-1", 1, 3))

	// Versions 4..5 were never cached; keeping 1..3 plus 6..7 would serve
	// a stream with a hole.
	c.Append("acct-1", run("acct-1", 6, 7))

	require.Nil(t, c.Load("acct-1", 1, 0))
	require.Equal(t, []int64{6, 7}, versions(c.Load("acct-1", 6, 0)))
}

func TestCache_AppendToEmptyCache(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Append("acct-1", run("acct-1", 1, 2))
	require.Equal(t, []int64{1, 2}, versions(c.Load("acct-1", 1, 0)))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(Config{TTL: time.Minute})
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Append("acct-1", run("acct-1", 1, 3))
	require.NotNil(t, c.Load("acct-1", 1, 0))

	// A read within the TTL slides the expiry forward.
	current = current.Add(45 * time.Second)
	require.NotNil(t, c.Load("acct-1", 1, 0))
	current = current.Add(45 * time.Second)
	require.NotNil(t, c.Load("acct-1", 1, 0))

	current = current.Add(61 * time.Second)
	require.Nil(t, c.Load("acct-1", 1, 0))
	require.Equal(t, 0, c.Len())
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(Config{MaxAggregates: 3})
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("acct-%d", i)
		c.Append(id, run(id, 1, 1))
	}

	// Touch acct-1 so acct-2 becomes the least recently used.
	require.NotNil(t, c.Load("acct-1", 1, 0))

	c.Append("acct-4", run("acct-4", 1, 1))

	require.Equal(t, 3, c.Len())
	require.NotNil(t, c.Load("acct-1", 1, 0))
	require.Nil(t, c.Load("acct-2", 1, 0))
	require.NotNil(t, c.Load("acct-3", 1, 0))
	require.NotNil(t, c.Load("acct-4", 1, 0))
}

func TestCache_TrimKeepsNewestEvents(t *testing.T) {
	c := NewCache(Config{MaxEventsPerStream: 5})
	c.Append("acct-1", run("acct-1", 1, 8))

	// Only the suffix 4..8 survives; older versions are a miss.
	require.Nil(t, c.Load("acct-1", 1, 0))
	require.Equal(t, []int64{4, 5, 6, 7, 8}, versions(c.Load("acct-1", 4, 0)))

	c.Append("acct-1", run("acct-1", 9, 10))
	require.Nil(t, c.Load("acct-1", 4, 0))
	require.Equal(t, []int64{6, 7, 8, 9, 10}, versions(c.Load("acct-1", 6, 0)))
}

func TestCache_PromotedRunOnlyServesBoundedReads(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Put("acct-1", run("acct-1", 1, 3))

	// The promoted tail may sit below the durable head, so an open-ended
	// read must go back to the warm store.
	require.Nil(t, c.Load("acct-1", 1, 0))
	require.Equal(t, []int64{1, 2, 3}, versions(c.Load("acct-1", 1, 3)))

	// The next committed mirror extends the run and marks its tail as the
	// head, re-enabling open-ended serving.
	c.Append("acct-1", run("acct-1", 4, 4))
	require.Equal(t, []int64{1, 2, 3, 4}, versions(c.Load("acct-1", 1, 0)))
}

func TestCache_PutDoesNotRegressNewerRun(t *testing.T) {
	c := NewCache(Config{MaxEventsPerStream: 5})
	c.Append("acct-1", run("acct-1", 1, 10)) // trimmed to 6..10

	// Promoting an older bounded read must not shadow the newer tail.
	c.Put("acct-1", run("acct-1", 1, 3))
	require.Nil(t, c.Load("acct-1", 1, 3))
	require.Equal(t, []int64{6, 7, 8, 9, 10}, versions(c.Load("acct-1", 6, 0)))
}

func TestCache_PutSameTailKeepsHead(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Append("acct-1", run("acct-1", 4, 6))

	// A full-stream promotion ending at the same tail widens the run
	// without losing head knowledge.
	c.Put("acct-1", run("acct-1", 1, 6))
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, versions(c.Load("acct-1", 1, 0)))
}

func TestCache_StaleMirrorIsIgnored(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Append("acct-1", run("acct-1", 1, 5))

	// A mirror that lost the race to a newer commit changes nothing.
	c.Append("acct-1", run("acct-1", 4, 5))
	require.Equal(t, []int64{1, 2, 3, 4, 5}, versions(c.Load("acct-1", 1, 0)))
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(DefaultConfig())
	c.Put("acct-1", run("acct-1", 1, 3))
	c.Invalidate("acct-1")

	require.Nil(t, c.Load("acct-1", 1, 0))
	require.Equal(t, 0, c.Len())

	// Invalidating an absent entry is a no-op.
	c.Invalidate("acct-missing")
}
