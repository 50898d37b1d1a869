package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mandiflow/mandiflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_records (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL,
	commodity_id TEXT NOT NULL,
	state_id     TEXT NOT NULL,
	variety      TEXT NOT NULL DEFAULT '',
	price_date   TEXT NOT NULL,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	record       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_canonical_natural
	ON canonical_records(market_id, commodity_id, variety, price_date);
CREATE INDEX IF NOT EXISTS idx_canonical_source ON canonical_records(source);
CREATE INDEX IF NOT EXISTS idx_canonical_status ON canonical_records(status);

CREATE TABLE IF NOT EXISTS audit_trail (
	id            TEXT PRIMARY KEY,
	natural_key   TEXT NOT NULL,
	record        TEXT NOT NULL,
	superseded_by TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_natural_key ON audit_trail(natural_key);

CREATE TABLE IF NOT EXISTS quarantine (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	partition  TEXT NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT,
	raw        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_quarantine_source ON quarantine(source);
CREATE INDEX IF NOT EXISTS idx_quarantine_reason ON quarantine(reason);

CREATE TABLE IF NOT EXISTS checkpoints (
	source     TEXT NOT NULL,
	partition  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'pending',
	high_water TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (source, partition)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CommitPartition applies a partition's full output in one transaction. A
// record landing on a natural key already held by a prior run goes through
// the dedup ordering against the stored record, and the loser is retained in
// the audit trail. The checkpoint advance is a conditional update on the
// previously read high-water mark; if the mark moved, the whole transaction
// rolls back and the caller gets ErrCheckpointConflict.
func (s *SQLiteStore) CommitPartition(ctx context.Context, commit PartitionCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	audits := commit.Superseded
	for _, rec := range commit.Records {
		stored, err := sqliteStoredCanonical(ctx, tx, rec)
		if err != nil {
			return err
		}
		write, audit := resolveAgainstStored(rec, stored)
		if audit != nil {
			audits = append(audits, *audit)
		}
		if !write {
			continue
		}
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal canonical record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO canonical_records
				(id, market_id, commodity_id, state_id, variety, price_date, source, status, fingerprint, record)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(market_id, commodity_id, variety, price_date) DO UPDATE SET
				id = excluded.id,
				state_id = excluded.state_id,
				source = excluded.source,
				status = excluded.status,
				fingerprint = excluded.fingerprint,
				record = excluded.record`,
			rec.ID, rec.Market.ID, rec.Commodity.ID, rec.State.ID, rec.Variety,
			rec.Date.Format("2006-01-02"), rec.Source, string(rec.Status), rec.Fingerprint, string(recordJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert canonical %s", rec.NaturalKey())
		}
	}

	for _, entry := range audits {
		recordJSON, err := json.Marshal(entry.Record)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_trail (id, natural_key, record, superseded_by)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			entry.ID, entry.NaturalKey, string(recordJSON), entry.SupersededBy,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert audit %s", entry.ID)
		}
	}

	for _, q := range commit.Quarantined {
		rawJSON, err := json.Marshal(q.Raw)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal quarantined raw record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO quarantine (id, source, partition, reason, detail, raw)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			q.ID, q.Raw.Source, commit.Partition, string(q.Reason), q.Detail, string(rawJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert quarantine %s", q.ID)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE checkpoints
		 SET state = ?, high_water = ?, updated_at = ?
		 WHERE source = ? AND partition = ? AND high_water = ?`,
		string(model.CheckpointCommitted), formatHighWater(commit.HighWater), time.Now().UTC(),
		commit.Source, commit.Partition, formatHighWater(commit.ExpectedHighWater),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: advance checkpoint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: checkpoint rows affected")
	}
	if n == 0 {
		return ErrCheckpointConflict
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit partition")
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, source, partition string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, partition, state, high_water, updated_at FROM checkpoints
		 WHERE source = ? AND partition = ?`,
		source, partition,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get checkpoint")
	}
	return cp, nil
}

// MarkInProgress ensures the checkpoint row exists and flags it in_progress,
// preserving any committed high-water mark.
func (s *SQLiteStore) MarkInProgress(ctx context.Context, source, partition string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (source, partition, state, high_water, updated_at)
		 VALUES (?, ?, ?, '', ?)
		 ON CONFLICT(source, partition) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		source, partition, string(model.CheckpointInProgress), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: mark in progress")
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, partition, state, high_water, updated_at FROM checkpoints
		 ORDER BY source, partition`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()

	var checkpoints []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, eris.Wrap(rows.Err(), "sqlite: list checkpoints iterate")
}

func (s *SQLiteStore) ResetCheckpoint(ctx context.Context, source, partition string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE source = ? AND partition = ?`,
		source, partition,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: reset checkpoint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("checkpoint not found: %s/%s", source, partition)
	}
	return nil
}

func (s *SQLiteStore) ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT record FROM canonical_records WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY market_id, commodity_id, variety, price_date LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal canonical")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list canonical iterate")
}

func (s *SQLiteStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error) {
	query := `SELECT id, reason, detail, raw, created_at FROM quarantine WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(filter.Reason))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quarantine")
	}
	defer rows.Close()

	var entries []model.QuarantineEntry
	for rows.Next() {
		var e model.QuarantineEntry
		var detail sql.NullString
		var rawJSON string
		if err := rows.Scan(&e.ID, &e.Reason, &detail, &rawJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quarantine")
		}
		e.Detail = detail.String
		if err := json.Unmarshal([]byte(rawJSON), &e.Raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal quarantined raw record")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list quarantine iterate")
}

func (s *SQLiteStore) ListAudit(ctx context.Context, naturalKey string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, natural_key, record, superseded_by, created_at FROM audit_trail
		 WHERE natural_key = ? ORDER BY created_at DESC`,
		naturalKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var recordJSON string
		if err := rows.Scan(&e.ID, &e.NaturalKey, &recordJSON, &e.SupersededBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit record")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// sqliteStoredCanonical reads the committed record at rec's natural key
// inside the commit transaction, or nil when the key is unclaimed.
func sqliteStoredCanonical(ctx context.Context, tx *sql.Tx, rec model.CanonicalRecord) (*model.CanonicalRecord, error) {
	var recordJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT record FROM canonical_records
		 WHERE market_id = ? AND commodity_id = ? AND variety = ? AND price_date = ?`,
		rec.Market.ID, rec.Commodity.ID, rec.Variety, rec.Date.Format("2006-01-02"),
	).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read stored canonical %s", rec.NaturalKey())
	}
	var stored model.CanonicalRecord
	if err := json.Unmarshal([]byte(recordJSON), &stored); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stored canonical")
	}
	return &stored, nil
}

// helpers

func formatHighWater(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseHighWater(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var highWater string
	if err := row.Scan(&cp.Source, &cp.Partition, &cp.State, &highWater, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	hw, err := parseHighWater(highWater)
	if err != nil {
		return nil, eris.Wrapf(err, "parse high water %q", highWater)
	}
	cp.HighWater = hw
	return &cp, nil
}
