// Package checkpoint manages workflow state snapshots: creation with bounded
// retention, lookup, and rollback restoration. Snapshots are deep copies, so a
// stored checkpoint never aliases live workflow state.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence"
)

// DefaultMaxPerWorkflow caps how many checkpoints are retained per workflow
// before the oldest are evicted.
const DefaultMaxPerWorkflow = 10

// Manager creates and restores workflow checkpoints on top of a persistence
// backend.
type Manager struct {
	logger         *slog.Logger
	store          persistence.Persistence
	maxPerWorkflow int
	seq            atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxPerWorkflow overrides the per-workflow retention cap. Values below 1
// are ignored.
func WithMaxPerWorkflow(max int) Option {
	return func(m *Manager) {
		if max >= 1 {
			m.maxPerWorkflow = max
		}
	}
}

func NewManager(logger *slog.Logger, store persistence.Persistence, opts ...Option) *Manager {
	manager := &Manager{
		logger:         logger.With("module", "checkpoint"),
		store:          store,
		maxPerWorkflow: DefaultMaxPerWorkflow,
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// CreateCheckpoint snapshots the workflow's current state under the given
// description. The state is deep-copied before storage, and retention is
// enforced after the save so the newest checkpoint is never the one evicted.
func (m *Manager) CreateCheckpoint(ctx context.Context, workflow *models.WorkflowState, description string, metadata map[string]any) (*models.Checkpoint, error) {
	checkpoint := &models.Checkpoint{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		State:       workflow.Clone(),
		Seq:         m.seq.Add(1),
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint for workflow %s: %w", workflow.ID, err)
	}

	m.logger.DebugContext(ctx, "Checkpoint created",
		"checkpoint_id", checkpoint.ID,
		"workflow_id", workflow.ID,
		"description", description)

	if err := m.enforceRetention(ctx, workflow.ID); err != nil {
		// The new checkpoint is already durable; eviction failure only
		// leaves extra history behind.
		m.logger.WarnContext(ctx, "Checkpoint retention enforcement failed",
			"workflow_id", workflow.ID, "error", err)
	}

	return checkpoint, nil
}

// CheckpointBeforeStep snapshots the workflow just before the step at the
// given index runs, tagging the checkpoint with the step's identity.
func (m *Manager) CheckpointBeforeStep(ctx context.Context, workflow *models.WorkflowState, stepIndex int) (*models.Checkpoint, error) {
	step := workflow.Step(stepIndex)
	if step == nil {
		return nil, fmt.Errorf("step index %d out of range for workflow %s", stepIndex, workflow.ID)
	}

	description := fmt.Sprintf("Before step: %s", step.Tool)

	return m.CreateCheckpoint(ctx, workflow, description, map[string]any{
		"step_id":    step.ID,
		"step_index": stepIndex,
	})
}

// CheckpointByID fetches a single checkpoint.
func (m *Manager) CheckpointByID(ctx context.Context, id string) (*models.Checkpoint, error) {
	return m.store.CheckpointByID(ctx, id)
}

// ListCheckpoints returns the workflow's checkpoints, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, workflowID string) ([]*models.Checkpoint, error) {
	return m.store.CheckpointsForWorkflow(ctx, workflowID)
}

// LatestCheckpoint returns the most recent checkpoint for the workflow, or
// (nil, nil) when none exist.
func (m *Manager) LatestCheckpoint(ctx context.Context, workflowID string) (*models.Checkpoint, error) {
	checkpoints, err := m.store.CheckpointsForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if len(checkpoints) == 0 {
		return nil, nil
	}

	return checkpoints[0], nil
}

// RestoreFromCheckpoint returns a deep copy of the state captured by the
// checkpoint. The stored snapshot is left untouched, so repeated restores from
// the same checkpoint are independent.
func (m *Manager) RestoreFromCheckpoint(ctx context.Context, id string) (*models.WorkflowState, error) {
	checkpoint, err := m.store.CheckpointByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Restoring workflow state from checkpoint",
		"checkpoint_id", checkpoint.ID,
		"workflow_id", checkpoint.WorkflowID,
		"description", checkpoint.Description)

	return checkpoint.State.Clone(), nil
}

// RestoreToLatest restores the workflow's most recent checkpoint. Returns
// (nil, nil) when the workflow has no checkpoints.
func (m *Manager) RestoreToLatest(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	checkpoint, err := m.LatestCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if checkpoint == nil {
		return nil, nil
	}

	return m.RestoreFromCheckpoint(ctx, checkpoint.ID)
}

// DeleteForWorkflow removes all checkpoints belonging to the workflow.
func (m *Manager) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	return m.store.DeleteCheckpointsForWorkflow(ctx, workflowID)
}

func (m *Manager) enforceRetention(ctx context.Context, workflowID string) error {
	checkpoints, err := m.store.CheckpointsForWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	if len(checkpoints) <= m.maxPerWorkflow {
		return nil
	}

	for _, evicted := range checkpoints[m.maxPerWorkflow:] {
		if err := m.store.DeleteCheckpoint(ctx, evicted.ID); err != nil {
			return err
		}

		m.logger.DebugContext(ctx, "Evicted checkpoint past retention cap",
			"checkpoint_id", evicted.ID, "workflow_id", workflowID)
	}

	return nil
}
