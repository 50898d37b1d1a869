package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return New(s), s
}

func TestBeginFreshPartition(t *testing.T) {
	ctx := context.Background()
	tracker, st := newTestTracker(t)

	highWater, err := tracker.Begin(ctx, "agmarknet", "2024-06-05")
	require.NoError(t, err)
	assert.True(t, highWater.IsZero())

	cp, err := st.GetCheckpoint(ctx, "agmarknet", "2024-06-05")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, model.CheckpointInProgress, cp.State)
}

func TestBeginAfterCommitReturnsHighWater(t *testing.T) {
	ctx := context.Background()
	tracker, st := newTestTracker(t)

	_, err := tracker.Begin(ctx, "agmarknet", "p1")
	require.NoError(t, err)

	mark := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.CommitPartition(ctx, store.PartitionCommit{
		Source: "agmarknet", Partition: "p1",
		HighWater: mark,
	}))

	highWater, err := tracker.Begin(ctx, "agmarknet", "p1")
	require.NoError(t, err)
	assert.True(t, highWater.Equal(mark))
}

func TestBeginAfterInterruptedRun(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	// A prior run marked in_progress and died before committing. The next
	// run sees the old mark and reprocesses the window.
	_, err := tracker.Begin(ctx, "agmarknet", "p1")
	require.NoError(t, err)

	highWater, err := tracker.Begin(ctx, "agmarknet", "p1")
	require.NoError(t, err)
	assert.True(t, highWater.IsZero())
}

func TestListAndReset(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTestTracker(t)

	_, err := tracker.Begin(ctx, "agmarknet", "p1")
	require.NoError(t, err)
	_, err = tracker.Begin(ctx, "state_portal", "p2")
	require.NoError(t, err)

	checkpoints, err := tracker.List(ctx)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 2)

	require.NoError(t, tracker.Reset(ctx, "agmarknet", "p1"))
	checkpoints, err = tracker.List(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, "state_portal", checkpoints[0].Source)

	assert.Error(t, tracker.Reset(ctx, "agmarknet", "p1"))
}
