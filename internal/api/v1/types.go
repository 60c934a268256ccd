// Package v1 exposes the event store over HTTP for external collaborators:
// append, range reads, the global feed and snapshot retention.
package v1

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strata-lab/strata/internal/event"
)

// Error type tags carried in API error responses.
const (
	ErrTypeInternal        = "internal_error"
	ErrTypeInvalidJSON     = "invalid_json"
	ErrTypeBadRequest      = "bad_request"
	ErrTypeConflict        = "version_conflict"
	ErrTypeUnavailable     = "storage_unavailable"
	ErrTypeStreamMissing   = "stream_not_found"
	ErrTypeSnapshotMissing = "snapshot_not_found"
)

// ErrorResponse is the error body for every non-2xx answer.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// AppendEvent is one event of an append request.
type AppendEvent struct {
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Validate applies the same requirements the store would reject later,
// so malformed requests fail fast with a field-level message.
func (e *AppendEvent) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be >= 1")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// AppendRequest is the body of POST /v1/streams/:id/events.
type AppendRequest struct {
	AggregateType   string         `json:"aggregate_type"`
	ExpectedVersion int64          `json:"expected_version"`
	Metadata        event.Metadata `json:"metadata,omitempty"`
	Events          []AppendEvent  `json:"events"`
}

// Validate checks the request shape.
func (r *AppendRequest) Validate() error {
	if r.AggregateType == "" {
		return fmt.Errorf("aggregate_type is required")
	}
	if r.ExpectedVersion < 0 {
		return fmt.Errorf("expected_version must be >= 0")
	}
	if len(r.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for i := range r.Events {
		if err := r.Events[i].Validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}

// AppendResponse reports the aggregate's new head after a successful
// append.
type AppendResponse struct {
	AggregateID string `json:"aggregate_id"`
	Version     int64  `json:"version"`

	// SnapshotDue is the configured strategy's advice. The server never
	// folds payloads into state, so the writer computes the snapshot and
	// submits it via PUT /v1/streams/:id/snapshot.
	SnapshotDue bool `json:"snapshot_due"`
}

// StreamResponse is the body of GET /v1/streams/:id/events.
type StreamResponse struct {
	AggregateID string           `json:"aggregate_id"`
	Events      []event.Envelope `json:"events"`
}

// StreamInfoResponse is the body of GET /v1/streams/:id.
type StreamInfoResponse struct {
	AggregateID string `json:"aggregate_id"`
	Exists      bool   `json:"exists"`
	Version     int64  `json:"version"`
}

// FeedResponse is the body of GET /v1/feed: envelopes in global commit
// order plus the cursor for the next page.
type FeedResponse struct {
	Events       []event.Envelope `json:"events"`
	NextSequence int64            `json:"next_sequence"`
}

// SnapshotSaveRequest is the body of PUT /v1/streams/:id/snapshot.
type SnapshotSaveRequest struct {
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
}

// Validate checks the request shape.
func (r *SnapshotSaveRequest) Validate() error {
	if r.AggregateType == "" {
		return fmt.Errorf("aggregate_type is required")
	}
	if r.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if len(r.State) == 0 {
		return fmt.Errorf("state is required")
	}
	return nil
}

// SnapshotResponse is the body of GET /v1/streams/:id/snapshot.
type SnapshotResponse struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CleanupRequest is the body of POST /v1/streams/:id/snapshots/cleanup.
type CleanupRequest struct {
	KeepCount int `json:"keep_count"`
}
