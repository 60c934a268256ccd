package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/store"
)

var envelopeColumns = []string{
	"sequence_number", "event_id", "aggregate_id", "aggregate_type", "version",
	"event_type", "schema_version", "payload", "metadata", "occurred_at",
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	a := &Adapter{
		db:                   db,
		sequencer:            store.NewSequencer(0),
		stmtCurrentVersion:   mustPrepareStmt(t, db, mock, queryCurrentVersion),
		stmtLoadRange:        mustPrepareStmt(t, db, mock, queryLoadRange),
		stmtExists:           mustPrepareStmt(t, db, mock, queryExists),
		stmtLoadFromSequence: mustPrepareStmt(t, db, mock, queryLoadFromSequence),
	}
	return a, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()
	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)
	return stmt
}

func appendBatch(n int) []event.Envelope {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]event.Envelope, n)
	for i := range out {
		out[i] = event.Envelope{
			EventID:       uuid.New(),
			EventType:     "ledger.funds_deposited",
			SchemaVersion: 2,
			Payload:       []byte(`{"amount":"12.50"}`),
			OccurredAt:    now,
		}
	}
	return out
}

func TestAdapter_Append_Success(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	batch := appendBatch(2)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersion)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertEvent)).
		WithArgs(batch[0].EventID, "acct-1", "ledger.account", int64(4),
			"ledger.funds_deposited", 2, []byte(`{"amount":"12.50"}`), []byte(nil), batch[0].OccurredAt).
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number"}).AddRow(int64(90)))
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertEvent)).
		WithArgs(batch[1].EventID, "acct-1", "ledger.account", int64(5),
			"ledger.funds_deposited", 2, []byte(`{"amount":"12.50"}`), []byte(nil), batch[1].OccurredAt).
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number"}).AddRow(int64(91)))
	mock.ExpectCommit()

	newVersion, err := a.Append(context.Background(), "acct-1", "ledger.account", batch, 3)
	require.NoError(t, err)
	require.Equal(t, int64(5), newVersion)

	// Versions and sequence numbers are filled into the caller's slice.
	require.Equal(t, int64(4), batch[0].Version)
	require.Equal(t, int64(90), batch[0].SequenceNumber)
	require.Equal(t, int64(5), batch[1].Version)
	require.Equal(t, int64(91), batch[1].SequenceNumber)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Append_ExpectedVersionMismatch(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersion)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(7)))
	mock.ExpectRollback()

	_, err := a.Append(context.Background(), "acct-1", "ledger.account", appendBatch(1), 5)
	require.True(t, store.IsConcurrencyError(err))

	var conflict *store.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(5), conflict.Expected)
	require.Equal(t, int64(7), conflict.Actual)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Append_LostRaceOnUniqueConstraint(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	batch := appendBatch(1)

	// The version read passes but a concurrent writer commits version 1
	// first; the insert hits the (aggregate_id, version) unique constraint.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersion)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta(queryInsertEvent)).
		WithArgs(batch[0].EventID, "acct-1", "ledger.account", int64(1),
			"ledger.funds_deposited", 2, []byte(`{"amount":"12.50"}`), []byte(nil), batch[0].OccurredAt).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "events_aggregate_version_unique"})
	// The conflict refreshes the actual version outside the transaction.
	// The failed transaction still pins the first mock connection, so
	// database/sql re-prepares the statement on a fresh one.
	mock.ExpectPrepare(regexp.QuoteMeta(queryCurrentVersion))
	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersion)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(1)))
	mock.ExpectRollback()

	_, err := a.Append(context.Background(), "acct-1", "ledger.account", batch, 0)
	require.True(t, store.IsConcurrencyError(err))

	var conflict *store.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(0), conflict.Expected)
	require.Equal(t, int64(1), conflict.Actual)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Append_EmptyBatch(t *testing.T) {
	a, _, db := newMockAdapter(t)
	defer db.Close()

	_, err := a.Append(context.Background(), "acct-1", "ledger.account", nil, 0)
	require.ErrorIs(t, err, store.ErrNoEvents)
}

func TestAdapter_Append_BackendDownIsUnavailable(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := a.Append(context.Background(), "acct-1", "ledger.account", appendBatch(1), 0)
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Load(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e1, e2 := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadRange)).
		WithArgs("acct-1", int64(2), int64(0)).
		WillReturnRows(sqlmock.NewRows(envelopeColumns).
			AddRow(int64(10), e1.String(), "acct-1", "ledger.account", int64(2),
				"ledger.funds_deposited", 2, []byte(`{"amount":"1.00"}`), nil, now).
			AddRow(int64(11), e2.String(), "acct-1", "ledger.account", int64(3),
				"ledger.funds_withdrawn", 1, []byte(`{"amount":"0.50"}`),
				[]byte(`{"correlation_id":"corr-1"}`), now))

	stream, err := a.Load(context.Background(), "acct-1", 2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, stream.Len())

	envelopes := stream.Envelopes()
	require.Equal(t, int64(2), envelopes[0].Version)
	require.Equal(t, e1, envelopes[0].EventID)
	require.True(t, envelopes[0].Metadata.IsZero())
	require.Equal(t, "corr-1", envelopes[1].Metadata.CorrelationID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Load_MissingAggregateIsEmptyStream(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadRange)).
		WithArgs("acct-missing", int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows(envelopeColumns))

	stream, err := a.Load(context.Background(), "acct-missing", 1, 0)
	require.NoError(t, err)
	require.True(t, stream.IsEmpty())
	require.Equal(t, "acct-missing", stream.AggregateID())
}

func TestAdapter_CurrentVersionAndExists(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersion)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta(queryExists)).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	v, err := a.CurrentVersion(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(12), v)

	ok, err := a.Exists(context.Background(), "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAdapter_LoadFromSequence(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadFromSequence)).
		WithArgs(int64(5), 2).
		WillReturnRows(sqlmock.NewRows(envelopeColumns).
			AddRow(int64(6), uuid.New().String(), "acct-1", "ledger.account", int64(3),
				"ledger.funds_deposited", 2, []byte(`{}`), nil, now).
			AddRow(int64(7), uuid.New().String(), "acct-2", "ledger.account", int64(1),
				"ledger.account_opened", 1, []byte(`{}`), nil, now))

	feed, err := a.LoadFromSequence(context.Background(), 5, 2)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	require.Equal(t, int64(6), feed[0].SequenceNumber)
	require.Equal(t, "acct-2", feed[1].AggregateID)
}

func TestAdapter_LoadBatch(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryLoadBatch)).
		WithArgs(pq.Array([]string{"acct-1", "acct-2"}), int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows(envelopeColumns).
			AddRow(int64(1), uuid.New().String(), "acct-1", "ledger.account", int64(1),
				"ledger.account_opened", 1, []byte(`{}`), nil, now).
			AddRow(int64(3), uuid.New().String(), "acct-1", "ledger.account", int64(2),
				"ledger.funds_deposited", 2, []byte(`{}`), nil, now).
			AddRow(int64(2), uuid.New().String(), "acct-2", "ledger.account", int64(1),
				"ledger.account_opened", 1, []byte(`{}`), nil, now))

	streams, err := a.LoadBatch(context.Background(), []string{"acct-1", "acct-2"}, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 2, streams["acct-1"].Len())
	require.Equal(t, 1, streams["acct-2"].Len())
}

func TestAdapter_CurrentVersionBatch(t *testing.T) {
	a, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryCurrentVersionBatch)).
		WithArgs(pq.Array([]string{"acct-1", "acct-2", "acct-3"})).
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_id", "max"}).
			AddRow("acct-1", int64(4)).
			AddRow("acct-2", int64(1)))

	versions, err := a.CurrentVersionBatch(context.Background(), []string{"acct-1", "acct-2", "acct-3"})
	require.NoError(t, err)
	// Absent aggregates map to 0 rather than being dropped.
	require.Equal(t, map[string]int64{"acct-1": 4, "acct-2": 1, "acct-3": 0}, versions)
}
