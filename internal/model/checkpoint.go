package model

import "time"

// CheckpointState tracks a (source, partition) through a run.
type CheckpointState string

const (
	CheckpointPending    CheckpointState = "pending"
	CheckpointInProgress CheckpointState = "in_progress"
	CheckpointCommitted  CheckpointState = "committed"
)

// Checkpoint records the highest ingestion timestamp successfully
// canonicalized for one (source, partition). Written only after the
// partition's output is durably committed.
type Checkpoint struct {
	Source    string          `json:"source"`
	Partition string          `json:"partition"`
	State     CheckpointState `json:"state"`
	HighWater time.Time       `json:"high_water"`
	UpdatedAt time.Time       `json:"updated_at"`
}
