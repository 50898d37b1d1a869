package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mandiflow/mandiflow/internal/model"
)

// pgPool is the minimal pool surface PostgresStore needs; pgxmock satisfies
// it for unit tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool, for deployments that land the
// canonical fact stream directly in the warehouse.
type PostgresStore struct {
	pool    pgPool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS canonical_records (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL,
	commodity_id TEXT NOT NULL,
	state_id     TEXT NOT NULL,
	variety      TEXT NOT NULL DEFAULT '',
	price_date   DATE NOT NULL,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (market_id, commodity_id, variety, price_date)
);

CREATE INDEX IF NOT EXISTS idx_canonical_source ON canonical_records(source);
CREATE INDEX IF NOT EXISTS idx_canonical_status ON canonical_records(status);

CREATE TABLE IF NOT EXISTS audit_trail (
	id            TEXT PRIMARY KEY,
	natural_key   TEXT NOT NULL,
	record        JSONB NOT NULL,
	superseded_by TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_natural_key ON audit_trail(natural_key);

CREATE TABLE IF NOT EXISTS quarantine (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	partition  TEXT NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT,
	raw        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quarantine_source ON quarantine(source);
CREATE INDEX IF NOT EXISTS idx_quarantine_reason ON quarantine(reason);

CREATE TABLE IF NOT EXISTS checkpoints (
	source     TEXT NOT NULL,
	partition  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'pending',
	high_water TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, partition)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CommitPartition mirrors the SQLite commit: stored records at contested
// natural keys go through the dedup ordering, losers land in the audit
// trail, and the checkpoint advance is a conditional update.
func (s *PostgresStore) CommitPartition(ctx context.Context, commit PartitionCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	audits := commit.Superseded
	for _, rec := range commit.Records {
		stored, err := pgStoredCanonical(ctx, tx, rec)
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
			return eris.Wrap(err, "postgres: marshal canonical record")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO canonical_records
				(id, market_id, commodity_id, state_id, variety, price_date, source, status, fingerprint, record)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (market_id, commodity_id, variety, price_date) DO UPDATE SET
				id = EXCLUDED.id,
				state_id = EXCLUDED.state_id,
				source = EXCLUDED.source,
				status = EXCLUDED.status,
				fingerprint = EXCLUDED.fingerprint,
				record = EXCLUDED.record`,
			rec.ID, rec.Market.ID, rec.Commodity.ID, rec.State.ID, rec.Variety,
			rec.Date, rec.Source, string(rec.Status), rec.Fingerprint, recordJSON,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert canonical %s", rec.NaturalKey())
		}
	}

	for _, entry := range audits {
		recordJSON, err := json.Marshal(entry.Record)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit record")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO audit_trail (id, natural_key, record, superseded_by)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			entry.ID, entry.NaturalKey, recordJSON, entry.SupersededBy,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert audit %s", entry.ID)
		}
	}

	for _, q := range commit.Quarantined {
		rawJSON, err := json.Marshal(q.Raw)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal quarantined raw record")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO quarantine (id, source, partition, reason, detail, raw)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			q.ID, q.Raw.Source, commit.Partition, string(q.Reason), q.Detail, rawJSON,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert quarantine %s", q.ID)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE checkpoints
		 SET state = $1, high_water = $2, updated_at = $3
		 WHERE source = $4 AND partition = $5 AND high_water = $6`,
		string(model.CheckpointCommitted), formatHighWater(commit.HighWater), time.Now().UTC(),
		commit.Source, commit.Partition, formatHighWater(commit.ExpectedHighWater),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: advance checkpoint")
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckpointConflict
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit partition")
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, source, partition string) (*model.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source, partition, state, high_water, updated_at FROM checkpoints
		 WHERE source = $1 AND partition = $2`,
		source, partition,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get checkpoint")
	}
	return cp, nil
}

func (s *PostgresStore) MarkInProgress(ctx context.Context, source, partition string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (source, partition, state, high_water, updated_at)
		 VALUES ($1, $2, $3, '', $4)
		 ON CONFLICT (source, partition) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		source, partition, string(model.CheckpointInProgress), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: mark in progress")
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, partition, state, high_water, updated_at FROM checkpoints
		 ORDER BY source, partition`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var checkpoints []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, eris.Wrap(rows.Err(), "postgres: list checkpoints iterate")
}

func (s *PostgresStore) ResetCheckpoint(ctx context.Context, source, partition string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE source = $1 AND partition = $2`,
		source, partition,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: reset checkpoint")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("checkpoint not found: %s/%s", source, partition)
	}
	return nil
}

func (s *PostgresStore) ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error) {
	query := `SELECT record FROM canonical_records WHERE 1=1`
	var args []any

	if filter.Source != "" {
		args = append(args, filter.Source)
		query += placeholderAnd("source", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += placeholderAnd("status", len(args))
	}
	args = append(args, limitOrDefault(filter.Limit))
	query += ` ORDER BY market_id, commodity_id, variety, price_date LIMIT ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal canonical")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list canonical iterate")
}

func (s *PostgresStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error) {
	query := `SELECT id, reason, detail, raw, created_at FROM quarantine WHERE 1=1`
	var args []any

	if filter.Source != "" {
		args = append(args, filter.Source)
		query += placeholderAnd("source", len(args))
	}
	if filter.Reason != "" {
		args = append(args, string(filter.Reason))
		query += placeholderAnd("reason", len(args))
	}
	args = append(args, limitOrDefault(filter.Limit))
	query += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quarantine")
	}
	defer rows.Close()

	var entries []model.QuarantineEntry
	for rows.Next() {
		var e model.QuarantineEntry
		var detail *string
		var rawJSON []byte
		if err := rows.Scan(&e.ID, &e.Reason, &detail, &rawJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quarantine")
		}
		if detail != nil {
			e.Detail = *detail
		}
		if err := json.Unmarshal(rawJSON, &e.Raw); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal quarantined raw record")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list quarantine iterate")
}

func (s *PostgresStore) ListAudit(ctx context.Context, naturalKey string) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, natural_key, record, superseded_by, created_at FROM audit_trail
		 WHERE natural_key = $1 ORDER BY created_at DESC`,
		naturalKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var recordJSON []byte
		if err := rows.Scan(&e.ID, &e.NaturalKey, &recordJSON, &e.SupersededBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		if err := json.Unmarshal(recordJSON, &e.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit record")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

// pgStoredCanonical reads the committed record at rec's natural key inside
// the commit transaction, or nil when the key is unclaimed.
func pgStoredCanonical(ctx context.Context, tx pgx.Tx, rec model.CanonicalRecord) (*model.CanonicalRecord, error) {
	var recordJSON []byte
	err := tx.QueryRow(ctx,
		`SELECT record FROM canonical_records
		 WHERE market_id = $1 AND commodity_id = $2 AND variety = $3 AND price_date = $4`,
		rec.Market.ID, rec.Commodity.ID, rec.Variety, rec.Date,
	).Scan(&recordJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read stored canonical %s", rec.NaturalKey())
	}
	var stored model.CanonicalRecord
	if err := json.Unmarshal(recordJSON, &stored); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stored canonical")
	}
	return &stored, nil
}

// placeholder builds the $n positional parameter for a 1-based index.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func placeholderAnd(column string, n int) string {
	return ` AND ` + column + ` = ` + placeholder(n)
}
