package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowState_Defaults(t *testing.T) {
	steps := []*WorkflowStep{
		{Tool: "trim_clip", Description: "Trim the intro"},
		{ID: "step-custom", Tool: "delete_clip", RequiresApproval: true},
	}

	workflow := NewWorkflowState("tighten the intro", steps)

	require.NotEmpty(t, workflow.ID)
	assert.Equal(t, PhaseIdle, workflow.Phase)
	assert.Equal(t, -1, workflow.CurrentStepIndex)
	assert.Equal(t, "tighten the intro", workflow.Intent)
	assert.True(t, workflow.HasHighRiskOperations)
	assert.False(t, workflow.StartedAt.IsZero())
	assert.Nil(t, workflow.CompletedAt)
	assert.Empty(t, workflow.ApprovalStatus)

	assert.NotEmpty(t, workflow.Steps[0].ID)
	assert.Equal(t, "step-custom", workflow.Steps[1].ID)
	assert.Equal(t, StepStatusPending, workflow.Steps[0].Status)
	assert.Equal(t, StepStatusPending, workflow.Steps[1].Status)
}

func TestNewWorkflowState_NoHighRiskSteps(t *testing.T) {
	workflow := NewWorkflowState("describe the timeline", []*WorkflowStep{
		{Tool: "log"},
	})

	assert.False(t, workflow.HasHighRiskOperations)
}

func TestProgress_ZeroSteps(t *testing.T) {
	workflow := NewWorkflowState("noop", nil)

	assert.Equal(t, 100, workflow.Progress())
	assert.False(t, workflow.HasHighRiskOperations)
}

func TestProgress_CountsCompletedAndSkipped(t *testing.T) {
	workflow := NewWorkflowState("mixed", []*WorkflowStep{
		{Tool: "a", Status: StepStatusCompleted},
		{Tool: "b", Status: StepStatusSkipped},
		{Tool: "c", Status: StepStatusPending},
	})

	assert.Equal(t, 67, workflow.Progress())
}

func TestProgress_AllDone(t *testing.T) {
	workflow := NewWorkflowState("done", []*WorkflowStep{
		{Tool: "a", Status: StepStatusCompleted},
		{Tool: "b", Status: StepStatusCompleted},
	})

	assert.Equal(t, 100, workflow.Progress())
}

func TestStepStatusCounts(t *testing.T) {
	workflow := NewWorkflowState("counts", []*WorkflowStep{
		{Tool: "a", Status: StepStatusCompleted},
		{Tool: "b", Status: StepStatusCompleted},
		{Tool: "c", Status: StepStatusFailed},
		{Tool: "d", Status: StepStatusPending},
	})

	counts := workflow.StepStatusCounts()

	assert.Equal(t, 2, counts[StepStatusCompleted])
	assert.Equal(t, 1, counts[StepStatusFailed])
	assert.Equal(t, 1, counts[StepStatusPending])
	assert.Equal(t, 0, counts[StepStatusSkipped])
}

func TestHighRiskStepCount(t *testing.T) {
	workflow := NewWorkflowState("risk", []*WorkflowStep{
		{Tool: "a", RequiresApproval: true},
		{Tool: "b"},
		{Tool: "c", RequiresApproval: true},
	})

	assert.Equal(t, 2, workflow.HighRiskStepCount())
}

func TestStep_OutOfRange(t *testing.T) {
	workflow := NewWorkflowState("bounds", []*WorkflowStep{{Tool: "a"}})

	assert.Nil(t, workflow.Step(-1))
	assert.Nil(t, workflow.Step(1))
	assert.NotNil(t, workflow.Step(0))
}

func TestClassifyRisk(t *testing.T) {
	assert.Equal(t, RiskLevelLow, ClassifyRisk(0))
	assert.Equal(t, RiskLevelMedium, ClassifyRisk(1))
	assert.Equal(t, RiskLevelMedium, ClassifyRisk(2))
	assert.Equal(t, RiskLevelHigh, ClassifyRisk(3))
	assert.Equal(t, RiskLevelHigh, ClassifyRisk(10))
}

func TestWorkflowStateClone_IsIndependent(t *testing.T) {
	workflow := NewWorkflowState("clone me", []*WorkflowStep{
		{
			Tool: "apply_filter",
			Args: map[string]any{
				"filter": "sepia",
				"nested": map[string]any{"strength": 0.5},
				"clips":  []any{"clip-1", "clip-2"},
			},
		},
	})

	clone := workflow.Clone()

	// Mutate the original in every dimension the engine touches.
	workflow.Phase = PhaseExecuting
	workflow.CurrentStepIndex = 0
	workflow.Error = "boom"
	workflow.Steps[0].Status = StepStatusFailed
	workflow.Steps[0].Args["filter"] = "noir"
	workflow.Steps[0].Args["nested"].(map[string]any)["strength"] = 1.0
	workflow.Steps[0].Args["clips"].([]any)[0] = "clip-9"

	assert.Equal(t, PhaseIdle, clone.Phase)
	assert.Equal(t, -1, clone.CurrentStepIndex)
	assert.Empty(t, clone.Error)
	assert.Equal(t, StepStatusPending, clone.Steps[0].Status)
	assert.Equal(t, "sepia", clone.Steps[0].Args["filter"])
	assert.Equal(t, 0.5, clone.Steps[0].Args["nested"].(map[string]any)["strength"])
	assert.Equal(t, "clip-1", clone.Steps[0].Args["clips"].([]any)[0])

	// And the reverse direction: mutating the clone must not touch the original.
	clone.Steps[0].Args["filter"] = "vignette"
	assert.Equal(t, "noir", workflow.Steps[0].Args["filter"])
}

func TestCheckpointClone_IsIndependent(t *testing.T) {
	workflow := NewWorkflowState("snapshot", []*WorkflowStep{{Tool: "a"}})
	checkpoint := &Checkpoint{
		ID:          "cp-1",
		WorkflowID:  workflow.ID,
		State:       workflow.Clone(),
		Description: "Before step: a",
		Metadata:    map[string]any{"step_index": 0},
	}

	clone := checkpoint.Clone()
	clone.State.Phase = PhaseFailed
	clone.Metadata["step_index"] = 9

	assert.Equal(t, PhaseIdle, checkpoint.State.Phase)
	assert.Equal(t, 0, checkpoint.Metadata["step_index"])
}
