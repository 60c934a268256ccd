package store

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/store/hot"
)

// Tiered orchestrates the warm store and the hot cache behind the
// EventStore contract.
//
// Writes commit to the warm store first; only after that succeeds are the
// envelopes mirrored into the hot cache and handed to the optional
// publisher, both best-effort. This ordering is mandatory: durability never
// depends on the cache. Reads try the hot cache and fall back to the warm
// store on a miss, promoting the retrieved stream for future reads.
// Concurrency conflicts surfaced by the warm store propagate unchanged.
type Tiered struct {
	warm      EventStore
	cache     *hot.Cache
	publisher Publisher

	// promote collapses concurrent warm fallbacks for the same aggregate
	// so a cold popular stream is fetched once, not once per reader.
	promote singleflight.Group
}

// TieredOption configures a Tiered store.
type TieredOption func(*Tiered)

// WithPublisher attaches a best-effort post-commit publisher.
func WithPublisher(p Publisher) TieredOption {
	return func(t *Tiered) { t.publisher = p }
}

// NewTiered creates the orchestrator over a warm backend and a hot cache.
func NewTiered(warm EventStore, cache *hot.Cache, opts ...TieredOption) *Tiered {
	t := &Tiered{warm: warm, cache: cache}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append commits to the warm store, then mirrors the now-sequenced
// envelopes into the hot cache and publishes them. Cache and publisher
// failures are absorbed and logged; the warm commit already happened.
func (t *Tiered) Append(ctx context.Context, aggregateID, aggregateType string, envelopes []event.Envelope, expectedVersion int64) (int64, error) {
	newVersion, err := t.warm.Append(ctx, aggregateID, aggregateType, envelopes, expectedVersion)
	if err != nil {
		return 0, err
	}

	t.cache.Append(aggregateID, envelopes)

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, envelopes); err != nil {
			slog.Warn("[Tiered] Post-commit publish failed",
				"aggregate_id", aggregateID,
				"events", len(envelopes),
				"error", err)
		}
	}

	return newVersion, nil
}

// Load serves the range from the hot cache when fully covered, otherwise
// reads the warm store and promotes the retrieved run. Promotion never
// establishes the aggregate head; only the post-commit mirror in Append
// does, so open-ended reads keep consulting the warm store until a commit
// lands.
func (t *Tiered) Load(ctx context.Context, aggregateID string, fromVersion, toVersion int64) (*event.Stream, error) {
	if cached := t.cache.Load(aggregateID, fromVersion, toVersion); cached != nil {
		return event.NewStream(aggregateID, cached), nil
	}

	v, err, _ := t.promote.Do(promoteKey(aggregateID, fromVersion, toVersion), func() (any, error) {
		stream, err := t.warm.Load(ctx, aggregateID, fromVersion, toVersion)
		if err != nil {
			return nil, err
		}
		if !stream.IsEmpty() {
			t.cache.Put(aggregateID, stream.Envelopes())
		}
		return stream, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*event.Stream), nil
}

// CurrentVersion reads the warm store; the cache may hold a trimmed run
// whose tail is not necessarily the aggregate head.
func (t *Tiered) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	return t.warm.CurrentVersion(ctx, aggregateID)
}

// Exists reports whether the aggregate has at least one durable event.
func (t *Tiered) Exists(ctx context.Context, aggregateID string) (bool, error) {
	return t.warm.Exists(ctx, aggregateID)
}

// LoadFromSequence reads the global feed from the warm store. The feed is
// commit-ordered across aggregates and never served from cache.
func (t *Tiered) LoadFromSequence(ctx context.Context, fromSequence int64, limit int) ([]event.Envelope, error) {
	return t.warm.LoadFromSequence(ctx, fromSequence, limit)
}

// LoadBatch forwards to the warm backend's batch reader when available and
// degrades to per-aggregate loads otherwise.
func (t *Tiered) LoadBatch(ctx context.Context, aggregateIDs []string, fromVersion, toVersion int64) (map[string]*event.Stream, error) {
	if br, ok := t.warm.(BatchReader); ok {
		return br.LoadBatch(ctx, aggregateIDs, fromVersion, toVersion)
	}

	out := make(map[string]*event.Stream, len(aggregateIDs))
	for _, id := range aggregateIDs {
		stream, err := t.Load(ctx, id, fromVersion, toVersion)
		if err != nil {
			return nil, err
		}
		out[id] = stream
	}
	return out, nil
}

// CurrentVersionBatch forwards to the warm backend's batch reader when
// available and degrades to per-aggregate queries otherwise.
func (t *Tiered) CurrentVersionBatch(ctx context.Context, aggregateIDs []string) (map[string]int64, error) {
	if br, ok := t.warm.(BatchReader); ok {
		return br.CurrentVersionBatch(ctx, aggregateIDs)
	}

	out := make(map[string]int64, len(aggregateIDs))
	for _, id := range aggregateIDs {
		v, err := t.warm.CurrentVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func promoteKey(aggregateID string, fromVersion, toVersion int64) string {
	return fmt.Sprintf("%s/%d/%d", aggregateID, fromVersion, toVersion)
}

var (
	_ EventStore  = (*Tiered)(nil)
	_ BatchReader = (*Tiered)(nil)
)
