package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/montageio/montage/pkg/events"
	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// Result reports the outcome of a workflow run. Execution failures (step
// errors, rejection, timeout, cancellation) land here rather than in Execute's
// error return.
type Result struct {
	Success        bool   `json:"success"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	Error          string `json:"error,omitempty"`
}

// Execute drives the workflow from idle to a terminal phase, running each step
// through the given executor. The call blocks for the whole run, including any
// suspension waiting on human approval. It returns an error only when the
// workflow is unknown or not idle.
func (e *Engine) Execute(ctx context.Context, workflowID string, executor StepExecutor) (*Result, error) {
	e.mu.RLock()
	workflow, ok := e.workflows[workflowID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	// The transition table only allows idle -> analyzing, so a concurrent
	// second Execute loses this race and fails here.
	if !e.Transition(ctx, workflowID, models.PhaseAnalyzing) {
		return nil, fmt.Errorf("%w: %s is in phase %s", ErrWorkflowNotIdle, workflowID, workflow.Phase)
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.Int(otelhelper.WorkflowStepsKey, len(workflow.Steps)),
	)

	e.logger.Info("Execution started",
		"workflow_id", workflowID,
		"steps", len(workflow.Steps))

	e.Transition(ctx, workflowID, models.PhasePlanning)

	if result := e.approvalPhase(ctx, workflow); result != nil {
		return result, nil
	}

	if _, err := e.checkpoints.CreateCheckpoint(ctx, workflow, "Execution started", nil); err != nil {
		return e.failRun(ctx, workflow, 0, fmt.Errorf("checkpoint failed: %w", err)), nil
	}

	return e.runSteps(ctx, workflow, executor), nil
}

// approvalPhase routes the workflow through the gate when approval is
// requested. A nil return means execution may proceed; otherwise the run ended
// here and the result describes why.
func (e *Engine) approvalPhase(ctx context.Context, workflow *models.WorkflowState) *Result {
	// Only high-risk workflows go to the gate: a workflow without high-risk
	// steps never suspends in awaiting_approval, whatever the gate's
	// auto-approve setting is.
	if !e.cfg.AutoRequestApproval || !workflow.HasHighRiskOperations {
		e.Transition(ctx, workflow.ID, models.PhaseExecuting)

		return nil
	}

	request := e.gate.CreateRequest(workflow, "")
	if request == nil {
		e.Transition(ctx, workflow.ID, models.PhaseExecuting)

		return nil
	}

	e.mutate(func() {
		workflow.ApprovalStatus = models.ApprovalStatusPending
	})

	e.Transition(ctx, workflow.ID, models.PhaseAwaitingApproval)

	e.emit(ctx, events.ApprovalRequired{
		BaseEvent: events.NewBaseEvent(events.ApprovalRequiredEvent, workflow.ID),
		RequestID: request.ID,
		RiskLevel: request.RiskLevel,
		Summary:   request.Summary,
		ExpiresAt: request.ExpiresAt,
	})

	response, err := e.gate.WaitForResponse(ctx, request.ID)
	if err != nil {
		e.Transition(ctx, workflow.ID, models.PhaseCancelled)

		e.emit(ctx, events.WorkflowCancelled{
			BaseEvent: events.NewBaseEvent(events.WorkflowCancelledEvent, workflow.ID),
			Reason:    err.Error(),
		})

		return &Result{TotalSteps: len(workflow.Steps), Error: err.Error()}
	}

	e.emit(ctx, events.ApprovalReceived{
		BaseEvent: events.NewBaseEvent(events.ApprovalReceivedEvent, workflow.ID),
		RequestID: response.RequestID,
		Approved:  response.Approved,
		Reason:    response.Reason,
	})

	if !response.Approved {
		e.mutate(func() {
			workflow.ApprovalStatus = models.ApprovalStatusRejected
			workflow.RejectionReason = response.Reason
		})

		// Rejection returns the workflow to idle so the plan can be revised
		// and re-run.
		e.Transition(ctx, workflow.ID, models.PhaseIdle)

		errMsg := "approval rejected"
		if response.Reason != "" {
			errMsg = fmt.Sprintf("approval rejected: %s", response.Reason)
		}

		return &Result{TotalSteps: len(workflow.Steps), Error: errMsg}
	}

	e.mutate(func() {
		workflow.ApprovalStatus = models.ApprovalStatusApproved
	})

	e.Transition(ctx, workflow.ID, models.PhaseExecuting)

	return nil
}

func (e *Engine) runSteps(ctx context.Context, workflow *models.WorkflowState, executor StepExecutor) *Result {
	total := len(workflow.Steps)

	for i, step := range workflow.Steps {
		if phase, _ := e.phaseOf(workflow.ID); phase != models.PhaseExecuting {
			// Cancelled out from under us between steps.
			return &Result{CompletedSteps: i, TotalSteps: total, Error: "workflow cancelled"}
		}

		if ctx.Err() != nil {
			e.Transition(ctx, workflow.ID, models.PhaseCancelled)

			e.emit(ctx, events.WorkflowCancelled{
				BaseEvent: events.NewBaseEvent(events.WorkflowCancelledEvent, workflow.ID),
				Reason:    ctx.Err().Error(),
			})

			return &Result{CompletedSteps: i, TotalSteps: total, Error: ctx.Err().Error()}
		}

		if e.cfg.CheckpointBeforeSteps {
			if _, err := e.checkpoints.CheckpointBeforeStep(ctx, workflow, i); err != nil {
				return e.failRun(ctx, workflow, i, fmt.Errorf("checkpoint failed: %w", err))
			}
		}

		startedAt := time.Now().UTC()

		e.mutate(func() {
			workflow.CurrentStepIndex = i
			step.StartedAt = &startedAt
			step.Status = models.StepStatusInProgress
		})

		e.emit(ctx, events.StepStarted{
			BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, workflow.ID),
			StepID:      step.ID,
			StepIndex:   i,
			Tool:        step.Tool,
			Description: step.Description,
		})

		result, err := e.runStep(ctx, executor, workflow.ID, step)

		completedAt := time.Now().UTC()

		if err != nil {
			e.mutate(func() {
				step.CompletedAt = &completedAt
				step.Status = models.StepStatusFailed
				step.Error = err.Error()
			})

			e.emit(ctx, events.StepFailed{
				BaseEvent: events.NewBaseEvent(events.StepFailedEvent, workflow.ID),
				StepID:    step.ID,
				StepIndex: i,
				Error:     err.Error(),
			})

			return e.failRun(ctx, workflow, i, fmt.Errorf("step %s failed: %w", step.ID, err))
		}

		var progress int

		e.mutate(func() {
			step.CompletedAt = &completedAt
			step.Status = models.StepStatusCompleted
			step.Result = result
			progress = workflow.Progress()
		})

		e.emit(ctx, events.StepCompleted{
			BaseEvent:  events.NewBaseEvent(events.StepCompletedEvent, workflow.ID),
			StepID:     step.ID,
			StepIndex:  i,
			Progress:   progress,
			Result:     result,
			DurationMs: completedAt.Sub(startedAt).Milliseconds(),
		})
	}

	e.Transition(ctx, workflow.ID, models.PhaseVerifying)
	e.Transition(ctx, workflow.ID, models.PhaseComplete)

	e.logger.Info("Execution completed",
		"workflow_id", workflow.ID,
		"steps", total)

	e.emit(ctx, events.WorkflowCompleted{
		BaseEvent:      events.NewBaseEvent(events.WorkflowCompletedEvent, workflow.ID),
		CompletedSteps: total,
		DurationMs:     time.Since(workflow.StartedAt).Milliseconds(),
	})

	return &Result{Success: true, CompletedSteps: total, TotalSteps: total}
}

// runStep invokes the executor with panic recovery, so a misbehaving tool
// fails its step instead of tearing down the engine.
func (e *Engine) runStep(ctx context.Context, executor StepExecutor, workflowID string, step *models.WorkflowStep) (result any, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.step")
	defer span.End()

	span.SetAttributes(
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepToolKey, step.Tool),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}

		if err != nil {
			otelhelper.SetError(span, err)
		}
	}()

	return executor(ctx, step)
}

// failRun moves the workflow to failed, records the error and emits the
// failure event.
func (e *Engine) failRun(ctx context.Context, workflow *models.WorkflowState, completed int, err error) *Result {
	e.mutate(func() {
		workflow.Error = err.Error()
	})

	e.Transition(ctx, workflow.ID, models.PhaseFailed)

	e.logger.Error("Execution failed",
		"workflow_id", workflow.ID,
		"completed_steps", completed,
		"error", err)

	e.emit(ctx, events.WorkflowFailed{
		BaseEvent:      events.NewBaseEvent(events.WorkflowFailedEvent, workflow.ID),
		Error:          err.Error(),
		CompletedSteps: completed,
	})

	return &Result{CompletedSteps: completed, TotalSteps: len(workflow.Steps), Error: err.Error()}
}
