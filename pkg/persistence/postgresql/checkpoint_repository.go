package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence"
)

// CheckpointRepository handles checkpoint rows in PostgreSQL. The captured
// workflow state and metadata are stored as JSONB documents.
type CheckpointRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCheckpointRepository(db *sql.DB, logger *slog.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: db, logger: logger}
}

func (r *CheckpointRepository) Save(ctx context.Context, checkpoint *models.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	var metadataJSON []byte
	if checkpoint.Metadata != nil {
		metadataJSON, err = json.Marshal(checkpoint.Metadata)
		if err != nil {
			return persistence.NewCheckpointError("Save", checkpoint.ID, err)
		}
	}

	query := `
		INSERT INTO checkpoints (id, workflow_id, seq, description, state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			seq = EXCLUDED.seq,
			description = EXCLUDED.description,
			state = EXCLUDED.state,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at
	`

	_, err = r.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.WorkflowID,
		int64(checkpoint.Seq),
		checkpoint.Description,
		stateJSON,
		metadataJSON,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	return nil
}

func (r *CheckpointRepository) ByID(ctx context.Context, id string) (*models.Checkpoint, error) {
	query := `
		SELECT id, workflow_id, seq, description, state, metadata, created_at
		FROM checkpoints
		WHERE id = $1
	`

	checkpoint, err := r.scanCheckpoint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewCheckpointError("ByID", id, persistence.ErrCheckpointNotFound)
		}

		return nil, persistence.NewCheckpointError("ByID", id, err)
	}

	return checkpoint, nil
}

func (r *CheckpointRepository) ForWorkflow(ctx context.Context, workflowID string) ([]*models.Checkpoint, error) {
	query := `
		SELECT id, workflow_id, seq, description, state, metadata, created_at
		FROM checkpoints
		WHERE workflow_id = $1
		ORDER BY created_at DESC, seq DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowCheckpointError("ForWorkflow", workflowID, err)
	}
	defer rows.Close()

	checkpoints := make([]*models.Checkpoint, 0)

	for rows.Next() {
		checkpoint, err := r.scanCheckpoint(rows)
		if err != nil {
			return nil, persistence.NewWorkflowCheckpointError("ForWorkflow", workflowID, err)
		}

		checkpoints = append(checkpoints, checkpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewWorkflowCheckpointError("ForWorkflow", workflowID, err)
	}

	return checkpoints, nil
}

func (r *CheckpointRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE id = $1", id)
	if err != nil {
		return persistence.NewCheckpointError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewCheckpointError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewCheckpointError("Delete", id, persistence.ErrCheckpointNotFound)
	}

	return nil
}

func (r *CheckpointRepository) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE workflow_id = $1", workflowID)
	if err != nil {
		return persistence.NewWorkflowCheckpointError("DeleteForWorkflow", workflowID, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CheckpointRepository) scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var (
		checkpoint   models.Checkpoint
		seq          int64
		stateJSON    []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&checkpoint.ID,
		&checkpoint.WorkflowID,
		&seq,
		&checkpoint.Description,
		&stateJSON,
		&metadataJSON,
		&checkpoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	checkpoint.Seq = uint64(seq)

	if err := json.Unmarshal(stateJSON, &checkpoint.State); err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &checkpoint.Metadata); err != nil {
			return nil, err
		}
	}

	return &checkpoint, nil
}
