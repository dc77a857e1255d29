// Package web provides the HTTP surface of the workflow engine: request and
// response types plus fiber handlers.
package web

import (
	"time"

	"github.com/montageio/montage/pkg/models"
)

// CreateWorkflowRequest is the request body for registering a new workflow.
type CreateWorkflowRequest struct {
	Intent string        `json:"intent" validate:"required"`
	Steps  []StepRequest `json:"steps"  validate:"required,min=1,dive"`
}

// StepRequest describes one planned step.
type StepRequest struct {
	Tool             string         `json:"tool"              validate:"required"`
	Args             map[string]any `json:"args,omitempty"`
	Description      string         `json:"description,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
}

// RespondApprovalRequest is the human decision fed back into a pending
// approval request.
type RespondApprovalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// CancelWorkflowRequest optionally carries a cancellation reason.
type CancelWorkflowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StepResponse is the per-step view returned by the API.
type StepResponse struct {
	ID               string         `json:"id"`
	Tool             string         `json:"tool"`
	Description      string         `json:"description,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           string         `json:"status"`
	Result           any            `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Args             map[string]any `json:"args,omitempty"`
}

// WorkflowResponse is the API view of a workflow instance, with computed
// progress alongside the raw state.
type WorkflowResponse struct {
	ID               string         `json:"id"`
	Phase            models.Phase   `json:"phase"`
	Intent           string         `json:"intent"`
	Progress         int            `json:"progress"`
	CurrentStepIndex int            `json:"current_step_index"`
	HighRisk         bool           `json:"high_risk"`
	ApprovalStatus   string         `json:"approval_status,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Steps            []StepResponse `json:"steps"`
}

// CheckpointResponse summarizes a stored checkpoint. The captured state is
// omitted; restore through the rollback endpoint instead.
type CheckpointResponse struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Description string         `json:"description"`
	Phase       models.Phase   `json:"phase"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func TransformWorkflowResponse(workflow *models.WorkflowState) WorkflowResponse {
	steps := make([]StepResponse, len(workflow.Steps))
	for i, step := range workflow.Steps {
		steps[i] = StepResponse{
			ID:               step.ID,
			Tool:             step.Tool,
			Description:      step.Description,
			RequiresApproval: step.RequiresApproval,
			Status:           string(step.Status),
			Result:           step.Result,
			Error:            step.Error,
			StartedAt:        step.StartedAt,
			CompletedAt:      step.CompletedAt,
			Args:             step.Args,
		}
	}

	return WorkflowResponse{
		ID:               workflow.ID,
		Phase:            workflow.Phase,
		Intent:           workflow.Intent,
		Progress:         workflow.Progress(),
		CurrentStepIndex: workflow.CurrentStepIndex,
		HighRisk:         workflow.HasHighRiskOperations,
		ApprovalStatus:   string(workflow.ApprovalStatus),
		RejectionReason:  workflow.RejectionReason,
		Error:            workflow.Error,
		StartedAt:        workflow.StartedAt,
		CompletedAt:      workflow.CompletedAt,
		Steps:            steps,
	}
}

func TransformCheckpointResponse(checkpoint *models.Checkpoint) CheckpointResponse {
	return CheckpointResponse{
		ID:          checkpoint.ID,
		WorkflowID:  checkpoint.WorkflowID,
		Description: checkpoint.Description,
		Phase:       checkpoint.State.Phase,
		Metadata:    checkpoint.Metadata,
		CreatedAt:   checkpoint.CreatedAt,
	}
}
