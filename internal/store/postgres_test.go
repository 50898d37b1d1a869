package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandiflow/mandiflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetCheckpoint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT source, partition, state, high_water, updated_at FROM checkpoints`).
		WithArgs("agmarknet", "2024-06-05").
		WillReturnError(pgx.ErrNoRows)

	cp, err := s.GetCheckpoint(context.Background(), "agmarknet", "2024-06-05")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCheckpoint(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	updated := time.Date(2024, 6, 6, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT source, partition, state, high_water, updated_at FROM checkpoints`).
		WithArgs("agmarknet", "2024-06-05").
		WillReturnRows(pgxmock.NewRows([]string{"source", "partition", "state", "high_water", "updated_at"}).
			AddRow("agmarknet", "2024-06-05", "committed", "2024-06-06T08:00:00Z", updated))

	cp, err := s.GetCheckpoint(context.Background(), "agmarknet", "2024-06-05")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, model.CheckpointCommitted, cp.State)
	assert.True(t, cp.HighWater.Equal(time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkInProgress_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs("agmarknet", "2024-06-05", "in_progress", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.MarkInProgress(context.Background(), "agmarknet", "2024-06-05")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitPartition_CheckpointConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE checkpoints`).
		WithArgs("committed", "2024-06-06T08:00:00Z", pgxmock.AnyArg(), "agmarknet", "2024-06-05", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.CommitPartition(context.Background(), PartitionCommit{
		Source:    "agmarknet",
		Partition: "2024-06-05",
		HighWater: time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrCheckpointConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitPartition(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ingested := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)
	rec := canonicalFixture("agmarknet", 5, ingested)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT record FROM canonical_records`).
		WithArgs("mkt_azadpur", "cmd_onion", "", rec.Date).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO canonical_records`).
		WithArgs(rec.ID, "mkt_azadpur", "cmd_onion", "st_dl", "", rec.Date,
			"agmarknet", "accepted", rec.Fingerprint, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE checkpoints`).
		WithArgs("committed", "2024-06-06T08:00:00Z", pgxmock.AnyArg(), "agmarknet", "2024-06-05", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.CommitPartition(context.Background(), PartitionCommit{
		Source:    "agmarknet",
		Partition: "2024-06-05",
		Records:   []model.CanonicalRecord{rec},
		HighWater: ingested,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitPartition_StoredRecordOutranks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)
	stored := canonicalFixture("agmarknet", 5, t0)
	storedJSON, err := json.Marshal(stored)
	require.NoError(t, err)

	incoming := canonicalFixture("mirror", 7, t0.Add(2*time.Hour))
	incoming.SourcePriority = 3

	// The stored record wins, so the incoming one is written to the audit
	// trail and the canonical row is left untouched.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT record FROM canonical_records`).
		WithArgs("mkt_azadpur", "cmd_onion", "", incoming.Date).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(storedJSON))
	mock.ExpectExec(`INSERT INTO audit_trail`).
		WithArgs(AuditID(incoming.Fingerprint, stored.Fingerprint),
			incoming.NaturalKey(), pgxmock.AnyArg(), stored.Fingerprint).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE checkpoints`).
		WithArgs("committed", "2024-06-06T10:00:00Z", pgxmock.AnyArg(), "mirror", "2024-06-05", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = s.CommitPartition(context.Background(), PartitionCommit{
		Source:    "mirror",
		Partition: "2024-06-05",
		Records:   []model.CanonicalRecord{incoming},
		HighWater: incoming.IngestedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetCheckpoint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM checkpoints`).
		WithArgs("agmarknet", "missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.ResetCheckpoint(context.Background(), "agmarknet", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
