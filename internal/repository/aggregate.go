// Package repository loads and saves aggregates with minimal replay,
// composing the tiered event store, the snapshot store and a snapshot
// strategy.
package repository

import (
	"github.com/strata-lab/strata/internal/codec"
)

// Aggregate is a consistency boundary whose state derives entirely from
// its event history. Implementations embed Base for the bookkeeping and
// provide ApplyEvent to fold one event into state.
type Aggregate interface {
	AggregateID() string
	AggregateType() string

	// Version is the last durably committed version, 0 for a fresh
	// aggregate.
	Version() int64
	SetVersion(version int64)

	// ApplyEvent folds one event into state. Called during load replay and
	// after a successful save for the newly committed events.
	ApplyEvent(evt codec.Event) error

	UncommittedEvents() []codec.Event
	ClearUncommittedEvents()
}

// Snapshottable is implemented by aggregates that can externalize their
// state. Aggregates without it fall back to JSON-marshalling the aggregate
// itself.
type Snapshottable interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshot(state []byte) error
}

// Base provides the identity and uncommitted-event bookkeeping of an
// aggregate. Embed it and expose domain methods that call Record.
type Base struct {
	id            string
	aggregateType string
	version       int64
	pending       []codec.Event
}

// NewBase creates the bookkeeping for one aggregate instance.
func NewBase(id, aggregateType string) Base {
	return Base{id: id, aggregateType: aggregateType}
}

func (b *Base) AggregateID() string   { return b.id }
func (b *Base) AggregateType() string { return b.aggregateType }
func (b *Base) Version() int64        { return b.version }

func (b *Base) SetVersion(version int64) { b.version = version }

// Record queues a new event for the next Save. State is not touched here;
// the repository folds committed events through ApplyEvent so that load
// and save share one code path.
func (b *Base) Record(evt codec.Event) {
	b.pending = append(b.pending, evt)
}

func (b *Base) UncommittedEvents() []codec.Event { return b.pending }

func (b *Base) ClearUncommittedEvents() { b.pending = nil }
