package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the execution state of a single workflow step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// ApprovalStatus is the recorded human decision on a workflow, if any.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// WorkflowStep is one unit of work within a workflow: a single tool invocation.
// Steps are created with the workflow and mutated only by the engine during
// execution.
type WorkflowStep struct {
	ID               string         `json:"id"`
	Tool             string         `json:"tool"                   validate:"required"`
	Args             map[string]any `json:"args,omitempty"`
	Description      string         `json:"description"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           StepStatus     `json:"status"`
	Result           any            `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// WorkflowState is the aggregate state of one workflow instance. It is owned
// by the engine once registered; callers observe it but must not mutate it.
type WorkflowState struct {
	ID               string          `json:"id"`
	Phase            Phase           `json:"phase"`
	Steps            []*WorkflowStep `json:"steps"`
	CurrentStepIndex int             `json:"current_step_index"`
	Intent           string          `json:"intent"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Error            string          `json:"error,omitempty"`

	// HasHighRiskOperations is computed once at creation from the step list
	// and never recomputed afterwards.
	HasHighRiskOperations bool `json:"has_high_risk_operations"`

	ApprovalStatus  ApprovalStatus `json:"approval_status,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// NewWorkflowState builds a workflow in the idle phase from an intent and an
// ordered step list. Steps without an ID get one assigned. CurrentStepIndex
// starts at -1 and only becomes a valid index once execution begins.
func NewWorkflowState(intent string, steps []*WorkflowStep) *WorkflowState {
	highRisk := false

	for _, step := range steps {
		if step.ID == "" {
			step.ID = "step-" + uuid.New().String()[:8]
		}

		if step.Status == "" {
			step.Status = StepStatusPending
		}

		if step.RequiresApproval {
			highRisk = true
		}
	}

	return &WorkflowState{
		ID:                    uuid.New().String(),
		Phase:                 PhaseIdle,
		Steps:                 steps,
		CurrentStepIndex:      -1,
		Intent:                intent,
		StartedAt:             time.Now().UTC(),
		HasHighRiskOperations: highRisk,
	}
}

// Progress returns the workflow's completion percentage, counting completed
// and skipped steps. A workflow with zero steps is 100% complete.
func (w *WorkflowState) Progress() int {
	if len(w.Steps) == 0 {
		return 100
	}

	done := 0

	for _, step := range w.Steps {
		if step.Status == StepStatusCompleted || step.Status == StepStatusSkipped {
			done++
		}
	}

	return int(math.Round(100 * float64(done) / float64(len(w.Steps))))
}

// StepStatusCounts summarizes the workflow's steps by status.
func (w *WorkflowState) StepStatusCounts() map[StepStatus]int {
	counts := make(map[StepStatus]int, len(w.Steps))

	for _, step := range w.Steps {
		counts[step.Status]++
	}

	return counts
}

// HighRiskStepCount returns how many steps are flagged as requiring approval.
func (w *WorkflowState) HighRiskStepCount() int {
	count := 0

	for _, step := range w.Steps {
		if step.RequiresApproval {
			count++
		}
	}

	return count
}

// Step returns the step at the given index, or nil when out of range.
func (w *WorkflowState) Step(index int) *WorkflowStep {
	if index < 0 || index >= len(w.Steps) {
		return nil
	}

	return w.Steps[index]
}
