package checkpoint

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return NewManager(logger, memory.NewPersistence(), opts...)
}

func newTestWorkflow() *models.WorkflowState {
	return models.NewWorkflowState("cut the intro and export", []*models.WorkflowStep{
		{Tool: "trim_clip", Args: map[string]any{"start": 0.0, "end": 4.5}},
		{Tool: "apply_filter", Args: map[string]any{"name": "denoise"}, RequiresApproval: true},
		{Tool: "export_video", Args: map[string]any{"format": "mp4"}},
	})
}

func TestCreateCheckpointSnapshotsState(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()
	workflow.Phase = models.PhaseExecuting

	checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "Execution started", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, checkpoint.ID)
	assert.Equal(t, workflow.ID, checkpoint.WorkflowID)
	assert.Equal(t, models.PhaseExecuting, checkpoint.State.Phase)
	assert.Equal(t, "Execution started", checkpoint.Description)
	assert.False(t, checkpoint.CreatedAt.IsZero())
}

func TestCreateCheckpointIsolatesSnapshot(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "before mutation", nil)
	require.NoError(t, err)

	// Mutations after the snapshot must not leak into it.
	workflow.Phase = models.PhaseFailed
	workflow.Steps[0].Status = models.StepStatusFailed
	workflow.Steps[0].Args["start"] = 99.0

	stored, err := manager.CheckpointByID(ctx, checkpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseIdle, stored.State.Phase)
	assert.Equal(t, models.StepStatusPending, stored.State.Steps[0].Status)
	assert.Equal(t, 0.0, stored.State.Steps[0].Args["start"])
}

func TestCheckpointBeforeStep(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	checkpoint, err := manager.CheckpointBeforeStep(ctx, workflow, 1)
	require.NoError(t, err)

	assert.Equal(t, "Before step: apply_filter", checkpoint.Description)
	assert.Equal(t, workflow.Steps[1].ID, checkpoint.Metadata["step_id"])
	assert.Equal(t, 1, checkpoint.Metadata["step_index"])
}

func TestCheckpointBeforeStepOutOfRange(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	_, err := manager.CheckpointBeforeStep(ctx, workflow, 3)
	assert.Error(t, err)

	_, err = manager.CheckpointBeforeStep(ctx, workflow, -1)
	assert.Error(t, err)
}

func TestRetentionEvictsOldest(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, WithMaxPerWorkflow(3))
	workflow := newTestWorkflow()

	var created []*models.Checkpoint

	for i := 0; i < 5; i++ {
		checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "snapshot", nil)
		require.NoError(t, err)

		created = append(created, checkpoint)
	}

	remaining, err := manager.ListCheckpoints(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	// Newest three survive, newest first.
	assert.Equal(t, created[4].ID, remaining[0].ID)
	assert.Equal(t, created[3].ID, remaining[1].ID)
	assert.Equal(t, created[2].ID, remaining[2].ID)
}

func TestRetentionIsPerWorkflow(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, WithMaxPerWorkflow(2))

	first := newTestWorkflow()
	second := newTestWorkflow()

	for i := 0; i < 2; i++ {
		_, err := manager.CreateCheckpoint(ctx, first, "a", nil)
		require.NoError(t, err)

		_, err = manager.CreateCheckpoint(ctx, second, "b", nil)
		require.NoError(t, err)
	}

	firstList, err := manager.ListCheckpoints(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, firstList, 2)

	secondList, err := manager.ListCheckpoints(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, secondList, 2)
}

func TestLatestCheckpoint(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	latest, err := manager.LatestCheckpoint(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = manager.CreateCheckpoint(ctx, workflow, "first", nil)
	require.NoError(t, err)

	second, err := manager.CreateCheckpoint(ctx, workflow, "second", nil)
	require.NoError(t, err)

	latest, err = manager.LatestCheckpoint(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestLatestCheckpointBreaksTimestampTies(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	// Force identical creation timestamps so ordering falls back to the
	// insertion sequence.
	now := time.Now().UTC()

	first, err := manager.CreateCheckpoint(ctx, workflow, "first", nil)
	require.NoError(t, err)

	second, err := manager.CreateCheckpoint(ctx, workflow, "second", nil)
	require.NoError(t, err)

	first.CreatedAt = now
	second.CreatedAt = now
	require.NoError(t, manager.store.SaveCheckpoint(ctx, first))
	require.NoError(t, manager.store.SaveCheckpoint(ctx, second))

	latest, err := manager.LatestCheckpoint(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestRestoreFromCheckpointReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()
	workflow.Phase = models.PhaseExecuting
	workflow.Steps[0].Status = models.StepStatusCompleted

	checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "mid-run", nil)
	require.NoError(t, err)

	restored, err := manager.RestoreFromCheckpoint(ctx, checkpoint.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PhaseExecuting, restored.Phase)
	assert.Equal(t, models.StepStatusCompleted, restored.Steps[0].Status)

	// Mutating the restored copy must not affect the stored snapshot.
	restored.Steps[1].Status = models.StepStatusFailed

	again, err := manager.RestoreFromCheckpoint(ctx, checkpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, again.Steps[1].Status)
}

func TestRestoreToLatest(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	restored, err := manager.RestoreToLatest(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)

	workflow.Phase = models.PhasePlanning

	_, err = manager.CreateCheckpoint(ctx, workflow, "planned", nil)
	require.NoError(t, err)

	restored, err = manager.RestoreToLatest(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, models.PhasePlanning, restored.Phase)
}

func TestDeleteForWorkflow(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	_, err := manager.CreateCheckpoint(ctx, workflow, "one", nil)
	require.NoError(t, err)

	_, err = manager.CreateCheckpoint(ctx, workflow, "two", nil)
	require.NoError(t, err)

	require.NoError(t, manager.DeleteForWorkflow(ctx, workflow.ID))

	checkpoints, err := manager.ListCheckpoints(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)
}

func TestDiffAgainst(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()
	workflow.Phase = models.PhaseExecuting

	checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "mid-run", nil)
	require.NoError(t, err)

	workflow.Phase = models.PhaseVerifying
	workflow.Steps[0].Status = models.StepStatusCompleted
	workflow.Steps[1].Status = models.StepStatusCompleted

	diff, err := DiffAgainst(checkpoint, workflow)
	require.NoError(t, err)

	assert.True(t, diff.PhaseChanged)
	assert.Equal(t, models.PhaseExecuting, diff.FromPhase)
	assert.Equal(t, models.PhaseVerifying, diff.ToPhase)
	assert.Equal(t, []string{workflow.Steps[0].ID, workflow.Steps[1].ID}, diff.StepsCompleted)
}

func TestDiffAgainstNoChanges(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	workflow := newTestWorkflow()

	checkpoint, err := manager.CreateCheckpoint(ctx, workflow, "static", nil)
	require.NoError(t, err)

	diff, err := DiffAgainst(checkpoint, workflow)
	require.NoError(t, err)

	assert.False(t, diff.PhaseChanged)
	assert.Empty(t, diff.StepsCompleted)
}

func TestDiffAgainstWorkflowMismatch(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	first := newTestWorkflow()
	second := newTestWorkflow()

	checkpoint, err := manager.CreateCheckpoint(ctx, first, "mismatch", nil)
	require.NoError(t, err)

	_, err = DiffAgainst(checkpoint, second)
	assert.Error(t, err)
}
