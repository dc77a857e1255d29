// Package engine drives workflows through their lifecycle: phase transitions,
// human approval, checkpointed step execution, cancellation and rollback. The
// engine owns every registered workflow instance; callers observe state through
// accessors and the lifecycle event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/montageio/montage/pkg/approval"
	"github.com/montageio/montage/pkg/checkpoint"
	"github.com/montageio/montage/pkg/eventbus"
	"github.com/montageio/montage/pkg/events"
	"github.com/montageio/montage/pkg/models"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// ErrWorkflowNotFound indicates an operation referenced an unregistered workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowNotIdle indicates execution was requested for a workflow that
	// already started.
	ErrWorkflowNotIdle = errors.New("workflow is not idle")
)

// StepExecutor runs a single workflow step and returns its result. A non-nil
// error (or a panic, which the engine recovers) marks the step failed.
type StepExecutor func(ctx context.Context, step *models.WorkflowStep) (any, error)

// Config controls engine behavior during Execute.
type Config struct {
	// AutoRequestApproval asks the gate for sign-off before executing. When
	// false, workflows move straight from planning to executing.
	AutoRequestApproval bool

	// CheckpointBeforeSteps snapshots the workflow before every step, in
	// addition to the checkpoint taken when execution starts.
	CheckpointBeforeSteps bool
}

// Engine coordinates the approval gate, checkpoint manager and event
// dispatcher around an in-memory workflow instance table.
type Engine struct {
	logger      *slog.Logger
	cfg         Config
	gate        *approval.Gate
	checkpoints *checkpoint.Manager
	dispatcher  *eventbus.Dispatcher
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer

	mu        sync.RWMutex
	workflows map[string]*models.WorkflowState
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventPublisher relays every lifecycle event to an external event bus in
// addition to in-process observers. Publish failures are logged, not
// propagated.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithTracer wraps Execute and each step in spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(logger *slog.Logger, gate *approval.Gate, checkpoints *checkpoint.Manager, cfg Config, opts ...Option) *Engine {
	engine := &Engine{
		logger:      logger.With("module", "engine"),
		cfg:         cfg,
		gate:        gate,
		checkpoints: checkpoints,
		dispatcher:  eventbus.NewDispatcher(logger),
		tracer:      noop.NewTracerProvider().Tracer("montage/engine"),
		workflows:   make(map[string]*models.WorkflowState),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// CreateWorkflow registers a new idle workflow built from an intent and step
// list. The returned instance is the live one; once Execute starts, observe it
// through Workflow, which snapshots.
func (e *Engine) CreateWorkflow(intent string, steps []*models.WorkflowStep) *models.WorkflowState {
	workflow := models.NewWorkflowState(intent, steps)

	e.mu.Lock()
	e.workflows[workflow.ID] = workflow
	e.mu.Unlock()

	e.logger.Info("Workflow created",
		"workflow_id", workflow.ID,
		"intent", intent,
		"steps", len(steps),
		"high_risk", workflow.HasHighRiskOperations)

	return workflow
}

// Workflow returns a deep copy of the registered workflow with the given id,
// or nil. The copy is safe to read and marshal while the workflow executes.
func (e *Engine) Workflow(workflowID string) *models.WorkflowState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.workflows[workflowID].Clone()
}

// Workflows returns deep copies of all registered workflow instances.
func (e *Engine) Workflows() []*models.WorkflowState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	workflows := make([]*models.WorkflowState, 0, len(e.workflows))
	for _, workflow := range e.workflows {
		workflows = append(workflows, workflow.Clone())
	}

	return workflows
}

// Transition moves the workflow to the next phase if the transition table
// allows it. Invalid transitions and unknown workflows return false and leave
// state untouched. Terminal phases stamp CompletedAt. Every successful
// transition emits a PhaseChanged event.
func (e *Engine) Transition(ctx context.Context, workflowID string, next models.Phase) bool {
	e.mu.Lock()

	workflow, ok := e.workflows[workflowID]
	if !ok {
		e.mu.Unlock()

		return false
	}

	previous := workflow.Phase
	if !models.CanTransition(previous, next) {
		e.mu.Unlock()
		e.logger.Warn("Rejected phase transition",
			"workflow_id", workflowID,
			"from", previous,
			"to", next)

		return false
	}

	workflow.Phase = next

	if models.IsTerminal(next) && workflow.CompletedAt == nil {
		now := time.Now().UTC()
		workflow.CompletedAt = &now
	}
	e.mu.Unlock()

	e.logger.Debug("Phase transition",
		"workflow_id", workflowID,
		"from", previous,
		"to", next)

	e.emit(ctx, events.PhaseChanged{
		BaseEvent:     events.NewBaseEvent(events.PhaseChangedEvent, workflowID),
		Phase:         next,
		PreviousPhase: previous,
	})

	return true
}

// Cancel stops a workflow in a cancellable phase. A workflow waiting on
// approval is cancelled through the gate, which unblocks the suspended
// execution; otherwise the workflow moves to cancelled directly. Returns false
// when the workflow is unknown or not cancellable.
func (e *Engine) Cancel(ctx context.Context, workflowID, reason string) bool {
	phase, ok := e.phaseOf(workflowID)
	if !ok || !models.IsCancellable(phase) {
		return false
	}

	if phase == models.PhaseAwaitingApproval {
		return e.gate.CancelForWorkflow(workflowID, reason) > 0
	}

	if !e.Transition(ctx, workflowID, models.PhaseCancelled) {
		return false
	}

	e.logger.Info("Workflow cancelled", "workflow_id", workflowID, "reason", reason)

	e.emit(ctx, events.WorkflowCancelled{
		BaseEvent: events.NewBaseEvent(events.WorkflowCancelledEvent, workflowID),
		Reason:    reason,
	})

	return true
}

// Rollback restores the workflow to its most recent checkpoint. The restored
// state is forced into the rolled_back terminal phase and replaces the tracked
// instance. Returns (nil, nil) when the workflow has no checkpoints.
func (e *Engine) Rollback(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	e.mu.RLock()
	_, ok := e.workflows[workflowID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	restored, err := e.checkpoints.RestoreToLatest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to restore workflow %s: %w", workflowID, err)
	}

	if restored == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	restored.Phase = models.PhaseRolledBack
	restored.CompletedAt = &now

	e.mu.Lock()
	e.workflows[workflowID] = restored
	e.mu.Unlock()

	e.logger.Info("Workflow rolled back", "workflow_id", workflowID)

	return restored, nil
}

// RemoveWorkflow unregisters the workflow, cancels any of its pending approval
// requests and purges its checkpoints.
func (e *Engine) RemoveWorkflow(ctx context.Context, workflowID string) error {
	e.mu.Lock()

	if _, ok := e.workflows[workflowID]; !ok {
		e.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	delete(e.workflows, workflowID)
	e.mu.Unlock()

	e.gate.CancelForWorkflow(workflowID, "workflow removed")

	if err := e.checkpoints.DeleteForWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to purge checkpoints for workflow %s: %w", workflowID, err)
	}

	e.logger.Info("Workflow removed", "workflow_id", workflowID)

	return nil
}

// Subscribe registers a lifecycle event observer and returns its unsubscribe
// handle.
func (e *Engine) Subscribe(observer eventbus.Observer) func() {
	return e.dispatcher.Subscribe(observer)
}

// Gate exposes the approval gate, for surfaces that present pending requests
// and feed back decisions.
func (e *Engine) Gate() *approval.Gate {
	return e.gate
}

// Checkpoints exposes the checkpoint manager for read-only surfaces.
func (e *Engine) Checkpoints() *checkpoint.Manager {
	return e.checkpoints
}

func (e *Engine) emit(ctx context.Context, event eventbus.Event) {
	e.dispatcher.Emit(event)

	if e.publisher == nil {
		return
	}

	type workflowEvent interface {
		GetWorkflowID() string
	}

	key := ""
	if we, ok := event.(workflowEvent); ok {
		key = we.GetWorkflowID()
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"error", err)
	}
}

// mutate runs fn holding the engine lock. Execution mutates workflow state on
// a single goroutine, but the accessors snapshot concurrently, so every field
// write outside Transition goes through here.
func (e *Engine) mutate(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn()
}

func (e *Engine) phaseOf(workflowID string) (models.Phase, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	workflow, ok := e.workflows[workflowID]
	if !ok {
		return "", false
	}

	return workflow.Phase, true
}
