// Package memory provides the default in-memory checkpoint store, for
// single-process use where recovery does not need to survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence"
)

// Persistence implements persistence.Persistence with plain maps. Checkpoints
// are cloned on the way in and on the way out, so callers can never alias
// stored state.
type Persistence struct {
	mu          sync.RWMutex
	checkpoints map[string]*models.Checkpoint
	byWorkflow  map[string][]string
}

func NewPersistence() *Persistence {
	return &Persistence{
		checkpoints: make(map[string]*models.Checkpoint),
		byWorkflow:  make(map[string][]string),
	}
}

func (p *Persistence) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.checkpoints[checkpoint.ID]; !exists {
		p.byWorkflow[checkpoint.WorkflowID] = append(p.byWorkflow[checkpoint.WorkflowID], checkpoint.ID)
	}

	p.checkpoints[checkpoint.ID] = checkpoint.Clone()

	return nil
}

func (p *Persistence) CheckpointByID(_ context.Context, id string) (*models.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	checkpoint, ok := p.checkpoints[id]
	if !ok {
		return nil, persistence.NewCheckpointError("ByID", id, persistence.ErrCheckpointNotFound)
	}

	return checkpoint.Clone(), nil
}

func (p *Persistence) CheckpointsForWorkflow(_ context.Context, workflowID string) ([]*models.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := p.byWorkflow[workflowID]
	checkpoints := make([]*models.Checkpoint, 0, len(ids))

	for _, id := range ids {
		if checkpoint, ok := p.checkpoints[id]; ok {
			checkpoints = append(checkpoints, checkpoint.Clone())
		}
	}

	// Newest first; insertion sequence breaks creation-time ties.
	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].CreatedAt.Equal(checkpoints[j].CreatedAt) {
			return checkpoints[i].Seq > checkpoints[j].Seq
		}

		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})

	return checkpoints, nil
}

func (p *Persistence) DeleteCheckpoint(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	checkpoint, ok := p.checkpoints[id]
	if !ok {
		return persistence.NewCheckpointError("Delete", id, persistence.ErrCheckpointNotFound)
	}

	delete(p.checkpoints, id)

	ids := p.byWorkflow[checkpoint.WorkflowID]
	for i, candidate := range ids {
		if candidate == id {
			p.byWorkflow[checkpoint.WorkflowID] = append(ids[:i], ids[i+1:]...)

			break
		}
	}

	return nil
}

func (p *Persistence) DeleteCheckpointsForWorkflow(_ context.Context, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.byWorkflow[workflowID] {
		delete(p.checkpoints, id)
	}

	delete(p.byWorkflow, workflowID)

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
