package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strata-lab/strata/internal/event"
)

// Codec serializes typed events into envelopes and reconstructs them,
// applying the registered upcaster chain when a stored payload is older
// than the current schema. Both directions are pure transformations with
// no side effects.
type Codec struct {
	registry *Registry
}

// New creates a codec over the given registry.
func New(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry returns the underlying event type registry.
func (c *Codec) Registry() *Registry { return c.registry }

// Serialize converts a typed event into an envelope ready for appending.
// Version and SequenceNumber are left at zero; the warm store assigns both
// at commit.
func (c *Codec) Serialize(aggregateID, aggregateType string, evt Event, meta event.Metadata, occurredAt time.Time) (event.Envelope, error) {
	reg, err := c.registry.lookup(evt.EventType())
	if err != nil {
		return event.Envelope{}, err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("failed to marshal payload for event type %q: %w", evt.EventType(), err)
	}

	return event.Envelope{
		EventID:       uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     evt.EventType(),
		SchemaVersion: reg.schemaVersion,
		Payload:       payload,
		Metadata:      meta,
		OccurredAt:    occurredAt,
	}, nil
}

// Deserialize reconstructs the typed event from an envelope. Payloads with
// a schema version older than the current registration are upcast step by
// step before decoding; a missing intermediate step yields an
// UpcastChainBrokenError and payloads of unregistered types an
// UnknownEventTypeError.
func (c *Codec) Deserialize(env event.Envelope) (Event, error) {
	reg, err := c.registry.lookup(env.EventType)
	if err != nil {
		return nil, err
	}

	payload := env.Payload
	if env.SchemaVersion > reg.schemaVersion {
		return nil, fmt.Errorf("event type %q: stored schema version %d is newer than registered version %d",
			env.EventType, env.SchemaVersion, reg.schemaVersion)
	}
	if env.SchemaVersion < reg.schemaVersion {
		payload, err = c.upcast(reg, env.EventType, env.SchemaVersion, payload)
		if err != nil {
			return nil, err
		}
	}

	evt := reg.factory()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for event type %q: %w", env.EventType, err)
	}
	return evt, nil
}

// upcast runs the upgrade chain from the stored version up to the current
// registered version, one step at a time over the structured payload.
func (c *Codec) upcast(reg *registration, eventType string, fromVersion int, payload []byte) ([]byte, error) {
	var structured map[string]any
	if err := json.Unmarshal(payload, &structured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for upcasting event type %q: %w", eventType, err)
	}

	for v := fromVersion; v < reg.schemaVersion; v++ {
		up, ok := reg.upcasters[v]
		if !ok {
			return nil, &UpcastChainBrokenError{
				EventType:     eventType,
				FromVersion:   v,
				TargetVersion: reg.schemaVersion,
			}
		}
		next, err := up(structured)
		if err != nil {
			return nil, fmt.Errorf("upcaster %d->%d failed for event type %q: %w", v, v+1, eventType, err)
		}
		structured = next
	}

	upgraded, err := json.Marshal(structured)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upcast payload for event type %q: %w", eventType, err)
	}
	return upgraded, nil
}
