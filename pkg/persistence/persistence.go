// Package persistence provides the storage abstraction layer for workflow checkpoints.
package persistence

import (
	"context"

	"github.com/montageio/montage/pkg/models"
)

// Persistence stores workflow checkpoints. Implementations must return
// checkpoints for a workflow sorted newest-first, breaking creation-time ties
// by descending insertion sequence.
type Persistence interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	CheckpointByID(ctx context.Context, id string) (*models.Checkpoint, error)
	CheckpointsForWorkflow(ctx context.Context, workflowID string) ([]*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error
	DeleteCheckpointsForWorkflow(ctx context.Context, workflowID string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
