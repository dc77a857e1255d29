package checkpoint

import (
	"fmt"

	"github.com/montageio/montage/pkg/models"
)

// Diff describes how a workflow's state moved on from a checkpoint.
type Diff struct {
	PhaseChanged bool         `json:"phase_changed"`
	FromPhase    models.Phase `json:"from_phase"`
	ToPhase      models.Phase `json:"to_phase"`

	// StepsCompleted lists IDs of steps completed since the checkpoint was
	// taken.
	StepsCompleted []string `json:"steps_completed"`
}

// DiffAgainst compares a checkpoint to the workflow's current state. The two
// must describe the same workflow.
func DiffAgainst(checkpoint *models.Checkpoint, current *models.WorkflowState) (*Diff, error) {
	if checkpoint.WorkflowID != current.ID {
		return nil, fmt.Errorf("checkpoint %s belongs to workflow %s, not %s",
			checkpoint.ID, checkpoint.WorkflowID, current.ID)
	}

	diff := &Diff{
		PhaseChanged:   checkpoint.State.Phase != current.Phase,
		FromPhase:      checkpoint.State.Phase,
		ToPhase:        current.Phase,
		StepsCompleted: []string{},
	}

	completedBefore := make(map[string]bool, len(checkpoint.State.Steps))

	for _, step := range checkpoint.State.Steps {
		if step.Status == models.StepStatusCompleted {
			completedBefore[step.ID] = true
		}
	}

	for _, step := range current.Steps {
		if step.Status == models.StepStatusCompleted && !completedBefore[step.ID] {
			diff.StepsCompleted = append(diff.StepsCompleted, step.ID)
		}
	}

	return diff, nil
}
