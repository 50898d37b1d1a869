// Package store persists the engine's output: canonical records, the dedup
// audit trail, quarantine entries, and the checkpoint table.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mandiflow/mandiflow/internal/dedupe"
	"github.com/mandiflow/mandiflow/internal/model"
)

// ErrCheckpointConflict is returned when a partition commit loses the
// compare-and-commit race: the stored high-water mark no longer matches what
// this run read at entry.
var ErrCheckpointConflict = eris.New("checkpoint high-water mark changed since run start")

// AuditEntry retains a record superseded by deduplication, linked to the
// fingerprint of the record that won.
type AuditEntry struct {
	ID           string                `json:"id"`
	NaturalKey   string                `json:"natural_key"`
	Record       model.CanonicalRecord `json:"record"`
	SupersededBy string                `json:"superseded_by"`
	CreatedAt    time.Time             `json:"created_at"`
}

// PartitionCommit is the all-or-nothing output of one (source, partition):
// canonical winners, audit-trail losers, quarantine entries, and the
// checkpoint advance, applied in a single transaction.
type PartitionCommit struct {
	Source    string
	Partition string

	Records     []model.CanonicalRecord
	Superseded  []AuditEntry
	Quarantined []model.QuarantineEntry

	// ExpectedHighWater is the mark read at run entry (zero when none); the
	// commit fails with ErrCheckpointConflict if it has moved since.
	ExpectedHighWater time.Time
	HighWater         time.Time
}

// AuditID derives a deterministic audit row id from the superseded and
// winning fingerprints, so replaying a window never duplicates entries.
func AuditID(superseded, winner string) string {
	h := sha256.Sum256([]byte(superseded + "|" + winner))
	return hex.EncodeToString(h[:])
}

// resolveAgainstStored applies the dedup ordering between an incoming record
// and the record already stored at the same natural key. It reports whether
// the incoming record should be written, plus the audit entry retaining
// whichever side lost. Identical fingerprints are a replay; the write is a
// no-op upsert and nothing is audited.
func resolveAgainstStored(rec model.CanonicalRecord, stored *model.CanonicalRecord) (write bool, audit *AuditEntry) {
	if stored == nil || stored.Fingerprint == rec.Fingerprint {
		return true, nil
	}
	if dedupe.Wins(*stored, rec) {
		return false, &AuditEntry{
			ID:           AuditID(rec.Fingerprint, stored.Fingerprint),
			NaturalKey:   rec.NaturalKey(),
			Record:       rec,
			SupersededBy: stored.Fingerprint,
			CreatedAt:    rec.IngestedAt,
		}
	}
	return true, &AuditEntry{
		ID:           AuditID(stored.Fingerprint, rec.Fingerprint),
		NaturalKey:   stored.NaturalKey(),
		Record:       *stored,
		SupersededBy: rec.Fingerprint,
		CreatedAt:    rec.IngestedAt,
	}
}

// CanonicalFilter selects canonical records for inspection.
type CanonicalFilter struct {
	Source string
	Status model.QualityStatus
	Limit  int
}

// QuarantineFilter selects quarantine entries for inspection.
type QuarantineFilter struct {
	Source string
	Reason model.ReasonCode
	Limit  int
}

// Store is the persistence interface for the canonicalization engine.
type Store interface {
	// Partition output
	CommitPartition(ctx context.Context, commit PartitionCommit) error

	// Checkpoints
	GetCheckpoint(ctx context.Context, source, partition string) (*model.Checkpoint, error)
	MarkInProgress(ctx context.Context, source, partition string) error
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)
	ResetCheckpoint(ctx context.Context, source, partition string) error

	// Inspection
	ListCanonical(ctx context.Context, filter CanonicalFilter) ([]model.CanonicalRecord, error)
	ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error)
	ListAudit(ctx context.Context, naturalKey string) ([]AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
