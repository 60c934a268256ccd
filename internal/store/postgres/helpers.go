package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/store"
)

// marshalMetadata serializes envelope metadata, producing nil (SQL NULL)
// for zero metadata rather than a JSON "null" string.
func marshalMetadata(meta event.Metadata) ([]byte, error) {
	if meta.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEnvelopeRow scans a database row into an Envelope. Compatible with
// both sql.Row and sql.Rows.
func scanEnvelopeRow(row scanner) (event.Envelope, error) {
	var env event.Envelope
	var metadataJSON []byte

	err := row.Scan(
		&env.SequenceNumber,
		&env.EventID,
		&env.AggregateID,
		&env.AggregateType,
		&env.Version,
		&env.EventType,
		&env.SchemaVersion,
		&env.Payload,
		&metadataJSON,
		&env.OccurredAt,
	)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("failed to scan event row: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &env.Metadata); err != nil {
			return event.Envelope{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return env, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation (code 23505), the signal that a concurrent writer won the
// compare-and-append race.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// unavailable classifies a backend failure so callers can match it with
// errors.Is(err, store.ErrStorageUnavailable) and retry with backoff.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(store.ErrStorageUnavailable, err))
}
