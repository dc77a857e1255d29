package web

import (
	"context"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/models"
)

// APIHandlers exposes the workflow engine over HTTP.
type APIHandlers struct {
	logger    *slog.Logger
	engine    *engine.Engine
	executor  engine.StepExecutor
	validator *validator.Validate
}

func NewAPIHandlers(logger *slog.Logger, eng *engine.Engine, executor engine.StepExecutor) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "api_handlers"),
		engine:    eng,
		executor:  executor,
		validator: validator.New(),
	}
}

// ListWorkflows returns every registered workflow, newest first.
func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows := h.engine.Workflows()

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].StartedAt.After(workflows[j].StartedAt)
	})

	response := make([]WorkflowResponse, len(workflows))
	for i, workflow := range workflows {
		response[i] = TransformWorkflowResponse(workflow)
	}

	return c.JSON(response)
}

// CreateWorkflow registers a new idle workflow from an intent and step list.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	steps := make([]*models.WorkflowStep, len(req.Steps))
	for i, step := range req.Steps {
		steps[i] = &models.WorkflowStep{
			Tool:             step.Tool,
			Args:             step.Args,
			Description:      step.Description,
			RequiresApproval: step.RequiresApproval,
		}
	}

	workflow := h.engine.CreateWorkflow(req.Intent, steps)

	return c.Status(fiber.StatusCreated).JSON(TransformWorkflowResponse(workflow))
}

// GetWorkflow returns a single workflow by id.
func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow := h.engine.Workflow(c.Params("id"))
	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	return c.JSON(TransformWorkflowResponse(workflow))
}

// DeleteWorkflow unregisters a workflow and purges its approvals and
// checkpoints.
func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.engine.RemoveWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteWorkflow starts execution in the background and returns 202.
// Progress is observable through GetWorkflow and the approval endpoints.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("id")

	workflow := h.engine.Workflow(workflowID)
	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	if workflow.Phase != models.PhaseIdle {
		return conflict(c, "workflow is not idle")
	}

	go func() {
		result, err := h.engine.Execute(context.Background(), workflowID, h.executor)
		if err != nil {
			h.logger.Error("Workflow execution failed to start",
				"workflow_id", workflowID,
				"error", err)

			return
		}

		h.logger.Info("Workflow execution finished",
			"workflow_id", workflowID,
			"success", result.Success,
			"completed_steps", result.CompletedSteps)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflow_id": workflowID,
		"status":      "executing",
	})
}

// CancelWorkflow requests cancellation of a running or pending workflow.
func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	var req CancelWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	workflowID := c.Params("id")

	workflow := h.engine.Workflow(workflowID)
	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	if !h.engine.Cancel(c.Context(), workflowID, req.Reason) {
		return conflict(c, "workflow cannot be cancelled in phase "+string(workflow.Phase))
	}

	return c.JSON(TransformWorkflowResponse(h.engine.Workflow(workflowID)))
}

// RollbackWorkflow restores the workflow to its most recent checkpoint.
func (h *APIHandlers) RollbackWorkflow(c fiber.Ctx) error {
	restored, err := h.engine.Rollback(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	if restored == nil {
		return notFound(c, "workflow has no checkpoints")
	}

	return c.JSON(TransformWorkflowResponse(restored))
}

// ListCheckpoints returns the stored checkpoints of a workflow, newest first.
func (h *APIHandlers) ListCheckpoints(c fiber.Ctx) error {
	workflowID := c.Params("id")

	if h.engine.Workflow(workflowID) == nil {
		return notFound(c, "workflow not found")
	}

	checkpoints, err := h.engine.Checkpoints().ListCheckpoints(c.Context(), workflowID)
	if err != nil {
		return handleEngineError(c, err)
	}

	response := make([]CheckpointResponse, len(checkpoints))
	for i, checkpoint := range checkpoints {
		response[i] = TransformCheckpointResponse(checkpoint)
	}

	return c.JSON(response)
}

// ListApprovals returns every approval request awaiting a decision.
func (h *APIHandlers) ListApprovals(c fiber.Ctx) error {
	return c.JSON(h.engine.Gate().PendingRequests())
}

// RespondApproval feeds a human decision into a pending approval request.
func (h *APIHandlers) RespondApproval(c fiber.Ctx) error {
	var req RespondApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	requestID := c.Params("id")

	if h.engine.Gate().PendingRequest(requestID) == nil {
		return notFound(c, "approval request not found")
	}

	h.engine.Gate().Respond(&models.ApprovalResponse{
		RequestID: requestID,
		Approved:  req.Approved,
		Reason:    req.Reason,
	})

	return c.JSON(fiber.Map{
		"request_id": requestID,
		"approved":   req.Approved,
	})
}
