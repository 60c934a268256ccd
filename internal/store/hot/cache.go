// Package hot provides the in-process hot tier: a bounded, time-expiring
// cache of recent event streams. It is never authoritative; every entry can
// vanish at any moment and readers must be prepared to fall back to the
// warm store.
package hot

import (
	"container/list"
	"sync"
	"time"

	"github.com/strata-lab/strata/internal/event"
)

// Config bounds the cache.
type Config struct {
	// MaxAggregates is the number of aggregate entries kept before LRU
	// eviction kicks in.
	MaxAggregates int

	// MaxEventsPerStream caps the contiguous run kept per aggregate; when
	// exceeded, the oldest envelopes of the run are dropped.
	MaxEventsPerStream int

	// TTL is the sliding expiry per entry, refreshed on read and write.
	TTL time.Duration
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxAggregates:      1024,
		MaxEventsPerStream: 256,
		TTL:                5 * time.Minute,
	}
}

type entry struct {
	aggregateID string
	envelopes   []event.Envelope // contiguous run, version ascending
	headKnown   bool             // the run's tail is the committed aggregate head
	expiresAt   time.Time
}

// Cache is a thread-safe LRU+TTL cache of contiguous stream suffixes.
// Each aggregate maps to at most one entry holding the run [L..H]; appends
// that would introduce a gap invalidate the entry instead of corrupting it.
type Cache struct {
	mu      sync.Mutex
	config  Config
	entries map[string]*list.Element
	order   *list.List

	now func() time.Time
}

// NewCache creates a cache with the given bounds. Zero or negative bounds
// fall back to the defaults.
func NewCache(config Config) *Cache {
	def := DefaultConfig()
	if config.MaxAggregates <= 0 {
		config.MaxAggregates = def.MaxAggregates
	}
	if config.MaxEventsPerStream <= 0 {
		config.MaxEventsPerStream = def.MaxEventsPerStream
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	return &Cache{
		config:  config,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Load returns the envelopes in [fromVersion, toVersion] if the cached run
// fully covers the requested range, nil otherwise. toVersion = 0 means
// open-ended and is served only when the run's tail is the committed head;
// a promoted run may end below the head and must not stand in for it. A
// partial overlap is a miss: serving it would silently drop events.
func (c *Cache) Load(aggregateID string, fromVersion, toVersion int64) []event.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(aggregateID)
	if e == nil || len(e.envelopes) == 0 {
		return nil
	}

	first := e.envelopes[0].Version
	last := e.envelopes[len(e.envelopes)-1].Version
	if fromVersion < first {
		return nil
	}
	if toVersion > 0 && toVersion > last {
		return nil
	}
	if fromVersion > last {
		return nil
	}
	if toVersion == 0 && !e.headKnown {
		return nil
	}

	c.touch(aggregateID)

	hi := last
	if toVersion > 0 {
		hi = toVersion
	}
	out := make([]event.Envelope, 0, hi-fromVersion+1)
	for _, env := range e.envelopes {
		if env.Version < fromVersion {
			continue
		}
		if env.Version > hi {
			break
		}
		out = append(out, env)
	}
	return out
}

// Append mirrors freshly committed envelopes into the cache and marks the
// run's tail as the aggregate head. The run must stay contiguous: if the
// first new version is not exactly one past the cached tail, the entry is
// replaced by the new envelopes alone. A mirror whose tail is at or below
// the cached tail lost the race to a newer commit and is dropped.
func (c *Cache) Append(aggregateID string, envelopes []event.Envelope) {
	if len(envelopes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(aggregateID)
	if e == nil {
		c.store(aggregateID, append([]event.Envelope(nil), envelopes...), true)
		return
	}

	last := int64(0)
	if len(e.envelopes) > 0 {
		last = e.envelopes[len(e.envelopes)-1].Version
	}
	switch {
	case envelopes[0].Version == last+1:
		e.envelopes = append(e.envelopes, envelopes...)
		e.headKnown = true
		c.trim(e)
		c.touch(aggregateID)
	case envelopes[len(envelopes)-1].Version <= last:
		// Already covered by a newer run.
	default:
		c.store(aggregateID, append([]event.Envelope(nil), envelopes...), true)
	}
}

// Put replaces the cached run for an aggregate with a stream retrieved from
// the warm store. Only the tiered orchestrator promotes; nothing else may
// mutate the cache wholesale. A promoted run never overwrites an entry with
// a newer tail, and it does not mark the head: the read that produced it
// may have been bounded, or stale by the time it lands.
func (c *Cache) Put(aggregateID string, envelopes []event.Envelope) {
	if len(envelopes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	incoming := envelopes[len(envelopes)-1].Version
	headKnown := false
	if e := c.live(aggregateID); e != nil && len(e.envelopes) > 0 {
		last := e.envelopes[len(e.envelopes)-1].Version
		if last > incoming {
			return
		}
		// Same tail as the live entry: head knowledge carries over.
		headKnown = e.headKnown && last == incoming
	}
	c.store(aggregateID, append([]event.Envelope(nil), envelopes...), headKnown)
}

// Invalidate drops the entry for an aggregate.
func (c *Cache) Invalidate(aggregateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[aggregateID]; ok {
		delete(c.entries, aggregateID)
		c.order.Remove(elem)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live returns the entry for aggregateID, reaping it when expired.
// Caller must hold mu.
func (c *Cache) live(aggregateID string) *entry {
	elem, ok := c.entries[aggregateID]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		delete(c.entries, aggregateID)
		c.order.Remove(elem)
		return nil
	}
	return e
}

// store inserts or replaces the entry, evicting the LRU tail when over
// capacity. Caller must hold mu.
func (c *Cache) store(aggregateID string, envelopes []event.Envelope, headKnown bool) {
	if elem, ok := c.entries[aggregateID]; ok {
		e := elem.Value.(*entry)
		e.envelopes = envelopes
		e.headKnown = headKnown
		e.expiresAt = c.now().Add(c.config.TTL)
		c.trim(e)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.config.MaxAggregates {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		delete(c.entries, e.aggregateID)
		c.order.Remove(oldest)
	}

	e := &entry{
		aggregateID: aggregateID,
		envelopes:   envelopes,
		headKnown:   headKnown,
		expiresAt:   c.now().Add(c.config.TTL),
	}
	c.trim(e)
	c.entries[aggregateID] = c.order.PushFront(e)
}

// touch refreshes recency and expiry. Caller must hold mu.
func (c *Cache) touch(aggregateID string) {
	if elem, ok := c.entries[aggregateID]; ok {
		elem.Value.(*entry).expiresAt = c.now().Add(c.config.TTL)
		c.order.MoveToFront(elem)
	}
}

// trim drops the oldest envelopes of a run beyond MaxEventsPerStream.
// Caller must hold mu.
func (c *Cache) trim(e *entry) {
	if over := len(e.envelopes) - c.config.MaxEventsPerStream; over > 0 {
		e.envelopes = append([]event.Envelope(nil), e.envelopes[over:]...)
	}
}
