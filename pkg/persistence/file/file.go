// Package file provides file-based checkpoint persistence, one JSON document
// per checkpoint grouped by workflow.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence"
)

const dirPerm = 0o755
const filePerm = 0o644

// Persistence implements the persistence.Persistence interface using the file
// system. Checkpoints live under <root>/checkpoints/<workflow-id>/<id>.json.
type Persistence struct {
	root string
}

// NewPersistence creates a file store rooted at the given directory. A
// "file://" prefix is stripped, matching the storage URL convention used by
// the binaries.
func NewPersistence(root string) *Persistence {
	return &Persistence{
		root: strings.Replace(root, "file://", "", 1),
	}
}

func (p *Persistence) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	dir := p.workflowDir(checkpoint.WorkflowID)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	path := filepath.Join(dir, checkpoint.ID+".json")
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	return nil
}

func (p *Persistence) CheckpointByID(_ context.Context, id string) (*models.Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(p.checkpointsDir(), "*", id+".json"))
	if err != nil {
		return nil, persistence.NewCheckpointError("ByID", id, err)
	}

	if len(matches) == 0 {
		return nil, persistence.NewCheckpointError("ByID", id, persistence.ErrCheckpointNotFound)
	}

	return p.readCheckpoint(matches[0])
}

func (p *Persistence) CheckpointsForWorkflow(_ context.Context, workflowID string) ([]*models.Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(p.workflowDir(workflowID), "*.json"))
	if err != nil {
		return nil, persistence.NewWorkflowCheckpointError("ForWorkflow", workflowID, err)
	}

	checkpoints := make([]*models.Checkpoint, 0, len(matches))

	for _, path := range matches {
		checkpoint, err := p.readCheckpoint(path)
		if err != nil {
			return nil, err
		}

		checkpoints = append(checkpoints, checkpoint)
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].CreatedAt.Equal(checkpoints[j].CreatedAt) {
			return checkpoints[i].Seq > checkpoints[j].Seq
		}

		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})

	return checkpoints, nil
}

func (p *Persistence) DeleteCheckpoint(ctx context.Context, id string) error {
	matches, err := filepath.Glob(filepath.Join(p.checkpointsDir(), "*", id+".json"))
	if err != nil {
		return persistence.NewCheckpointError("Delete", id, err)
	}

	if len(matches) == 0 {
		return persistence.NewCheckpointError("Delete", id, persistence.ErrCheckpointNotFound)
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return persistence.NewCheckpointError("Delete", id, err)
		}
	}

	return nil
}

func (p *Persistence) DeleteCheckpointsForWorkflow(_ context.Context, workflowID string) error {
	err := os.RemoveAll(p.workflowDir(workflowID))
	if err != nil {
		return persistence.NewWorkflowCheckpointError("DeleteForWorkflow", workflowID, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists, creating it if needed.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.checkpointsDir(), dirPerm)
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) checkpointsDir() string {
	return filepath.Join(p.root, "checkpoints")
}

func (p *Persistence) workflowDir(workflowID string) string {
	return filepath.Join(p.checkpointsDir(), workflowID)
}

func (p *Persistence) readCheckpoint(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file %s: %w", path, err)
	}

	var checkpoint models.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint file %s: %w", path, err)
	}

	return &checkpoint, nil
}
