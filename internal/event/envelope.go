// Package event defines the persisted units of record for the event store:
// the event envelope, the event stream, and the snapshot.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata carries storage metadata alongside an event payload.
// Correlation and causation ids link events across aggregates; Extra is a
// free-form key-value store for side-channel context (source, trace_id, ...).
type Metadata struct {
	CorrelationID string            `json:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether the metadata carries no information at all.
// Zero metadata is stored as SQL NULL rather than an empty JSON object.
func (m Metadata) IsZero() bool {
	return m.CorrelationID == "" && m.CausationID == "" && m.Actor == "" && len(m.Extra) == 0
}

// Envelope is the durable, versioned record of one domain event.
//
// Version is a 1-based counter, strictly increasing and contiguous within
// one aggregate; (AggregateID, Version) is a unique key. SequenceNumber is
// a global counter shared across all aggregates, assigned by the warm store
// at commit time, used to feed downstream consumers in commit order.
// Neither counter is ever assigned speculatively.
type Envelope struct {
	// SequenceNumber is the global commit-order position.
	// Zero until the envelope has been durably appended.
	SequenceNumber int64 `json:"sequence_number"`

	// EventID uniquely identifies this envelope.
	EventID uuid.UUID `json:"event_id"`

	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`

	// Version is the aggregate version after this event is applied.
	// Zero until the envelope has been durably appended.
	Version int64 `json:"version"`

	// EventType is the registry key used to reconstruct the typed event.
	EventType string `json:"event_type"`

	// SchemaVersion is the payload schema generation, starting at 1.
	// Older generations are upcast at read time.
	SchemaVersion int `json:"schema_version"`

	// Payload is the serialized event data. RawMessage keeps it inline
	// when an envelope is itself rendered as JSON.
	Payload json.RawMessage `json:"payload"`

	Metadata Metadata `json:"metadata,omitempty"`

	// OccurredAt is when the event happened in the domain (producer clock),
	// as opposed to when it was committed.
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate ensures the envelope carries everything the store needs before
// it is handed to an append. Version and SequenceNumber are deliberately
// not checked: they are assigned at commit.
func (e *Envelope) Validate() error {
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be >= 1, got %d", e.SchemaVersion)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}
