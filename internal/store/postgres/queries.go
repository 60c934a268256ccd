package postgres

// SQL queries for the durable event log. The unique constraint on
// (aggregate_id, version) is what turns the insert into an atomic
// compare-and-append: a concurrent writer that won the race makes the
// insert fail with unique_violation.

const (
	// queryInsertEvent appends one envelope. RETURNING retrieves the
	// BIGSERIAL sequence_number assigned at commit, the store's global
	// commit-order counter.
	queryInsertEvent = `
		INSERT INTO events (
			event_id, aggregate_id, aggregate_type, version,
			event_type, schema_version, payload, metadata, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sequence_number
	`

	// queryCurrentVersion reads the aggregate head; 0 when absent.
	queryCurrentVersion = `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`

	// queryLoadRange fetches one aggregate's envelopes in version order.
	// $3 = 0 means open-ended.
	queryLoadRange = `
		SELECT
			sequence_number, event_id, aggregate_id, aggregate_type, version,
			event_type, schema_version, payload, metadata, occurred_at
		FROM events
		WHERE aggregate_id = $1
		  AND version >= $2
		  AND ($3 = 0 OR version <= $3)
		ORDER BY version ASC
	`

	queryExists = `
		SELECT EXISTS (SELECT 1 FROM events WHERE aggregate_id = $1)
	`

	// queryLoadFromSequence feeds downstream consumers in strict commit
	// order across all aggregates.
	queryLoadFromSequence = `
		SELECT
			sequence_number, event_id, aggregate_id, aggregate_type, version,
			event_type, schema_version, payload, metadata, occurred_at
		FROM events
		WHERE sequence_number > $1
		ORDER BY sequence_number ASC
		LIMIT $2
	`

	// queryLoadBatch answers a multi-aggregate range read in one round
	// trip, for bulk projection rebuilds.
	queryLoadBatch = `
		SELECT
			sequence_number, event_id, aggregate_id, aggregate_type, version,
			event_type, schema_version, payload, metadata, occurred_at
		FROM events
		WHERE aggregate_id = ANY($1)
		  AND version >= $2
		  AND ($3 = 0 OR version <= $3)
		ORDER BY aggregate_id ASC, version ASC
	`

	queryCurrentVersionBatch = `
		SELECT aggregate_id, MAX(version)
		FROM events
		WHERE aggregate_id = ANY($1)
		GROUP BY aggregate_id
	`
)
