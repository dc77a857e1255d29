package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/montageio/montage/pkg/approval"
	"github.com/montageio/montage/pkg/checkpoint"
	"github.com/montageio/montage/pkg/eventbus"
	"github.com/montageio/montage/pkg/events"
	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config, gateCfg approval.Config) *Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	gate := approval.NewGate(logger, gateCfg)
	checkpoints := checkpoint.NewManager(logger, memory.NewPersistence())

	return NewEngine(logger, gate, checkpoints, cfg)
}

func editingSteps() []*models.WorkflowStep {
	return []*models.WorkflowStep{
		{Tool: "trim_clip", Args: map[string]any{"start": 0.0, "end": 4.5}},
		{Tool: "apply_filter", Args: map[string]any{"name": "denoise"}},
		{Tool: "export_video", Args: map[string]any{"format": "mp4"}},
	}
}

func okExecutor(_ context.Context, step *models.WorkflowStep) (any, error) {
	return step.Tool + " done", nil
}

func failingExecutor(failTool string) StepExecutor {
	return func(_ context.Context, step *models.WorkflowStep) (any, error) {
		if step.Tool == failTool {
			return nil, fmt.Errorf("%s exploded", failTool)
		}

		return step.Tool + " done", nil
	}
}

// collectEvents subscribes an observer recording event types in order. Only
// safe for tests where Execute runs on the test goroutine.
func collectEvents(engine *Engine) *[]events.EventType {
	var seen []events.EventType

	engine.Subscribe(func(event eventbus.Event) {
		seen = append(seen, event.GetType())
	})

	return &seen
}

func TestCreateWorkflowRegistersInstance(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})

	workflow := engine.CreateWorkflow("edit the intro", editingSteps())

	assert.Equal(t, models.PhaseIdle, workflow.Phase)

	tracked := engine.Workflow(workflow.ID)
	require.NotNil(t, tracked)
	assert.Equal(t, workflow.ID, tracked.ID)
	assert.Len(t, engine.Workflows(), 1)
}

func TestWorkflowReturnsIsolatedSnapshot(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	snapshot := engine.Workflow(workflow.ID)
	require.NotNil(t, snapshot)
	assert.NotSame(t, workflow, snapshot)

	// Writes to the snapshot must not leak back into engine state.
	snapshot.Phase = models.PhaseFailed
	snapshot.Steps[0].Status = models.StepStatusFailed

	fresh := engine.Workflow(workflow.ID)
	assert.Equal(t, models.PhaseIdle, fresh.Phase)
	assert.Equal(t, models.StepStatusPending, fresh.Steps[0].Status)
}

func TestWorkflowSnapshotSafeDuringExecution(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = engine.Execute(context.Background(), workflow.ID,
			func(_ context.Context, step *models.WorkflowStep) (any, error) {
				time.Sleep(5 * time.Millisecond)

				return step.Tool + " done", nil
			})
	}()

	// Read and marshal snapshots while steps run, the way the HTTP surface
	// serves GET requests against an executing workflow.
	for {
		select {
		case <-done:
			assert.Equal(t, models.PhaseComplete, engine.Workflow(workflow.ID).Phase)

			return
		default:
			snapshot := engine.Workflow(workflow.ID)
			require.NotNil(t, snapshot)

			_, err := json.Marshal(snapshot)
			require.NoError(t, err)

			for _, listed := range engine.Workflows() {
				_, err := json.Marshal(listed)
				require.NoError(t, err)
			}
		}
	}
}

func TestWorkflowUnknownID(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})

	assert.Nil(t, engine.Workflow("missing"))
}

func TestTransitionValidEmitsPhaseChanged(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	var captured *events.PhaseChanged

	engine.Subscribe(func(event eventbus.Event) {
		if pc, ok := event.(events.PhaseChanged); ok {
			captured = &pc
		}
	})

	ok := engine.Transition(context.Background(), workflow.ID, models.PhaseAnalyzing)

	assert.True(t, ok)
	assert.Equal(t, models.PhaseAnalyzing, workflow.Phase)
	require.NotNil(t, captured)
	assert.Equal(t, models.PhaseIdle, captured.PreviousPhase)
	assert.Equal(t, models.PhaseAnalyzing, captured.Phase)
}

func TestTransitionInvalid(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	assert.False(t, engine.Transition(context.Background(), workflow.ID, models.PhaseExecuting))
	assert.Equal(t, models.PhaseIdle, workflow.Phase)

	assert.False(t, engine.Transition(context.Background(), "missing", models.PhaseAnalyzing))
}

func TestTransitionTerminalStampsCompletedAt(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhaseAnalyzing))
	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhaseCancelled))

	require.NotNil(t, workflow.CompletedAt)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})

	_, err := engine.Execute(context.Background(), "missing", okExecutor)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecuteNotIdle(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhaseAnalyzing))

	_, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	assert.ErrorIs(t, err, ErrWorkflowNotIdle)
}

func TestExecuteCompletesWithoutApproval(t *testing.T) {
	engine := newTestEngine(t, Config{CheckpointBeforeSteps: true}, approval.Config{})
	workflow := engine.CreateWorkflow("edit the intro", editingSteps())

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.CompletedSteps)
	assert.Equal(t, 3, result.TotalSteps)
	assert.Empty(t, result.Error)

	assert.Equal(t, models.PhaseComplete, workflow.Phase)
	assert.Equal(t, 100, workflow.Progress())
	assert.NotNil(t, workflow.CompletedAt)

	for _, step := range workflow.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.CompletedAt)
		assert.Equal(t, step.Tool+" done", step.Result)
	}

	// One checkpoint at execution start plus one before each of the 3 steps.
	checkpoints, err := engine.Checkpoints().ListCheckpoints(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 4)
}

func TestExecuteEventOrder(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("single step", []*models.WorkflowStep{
		{Tool: "trim_clip"},
	})

	seen := collectEvents(engine)

	_, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.PhaseChangedEvent, // idle -> analyzing
		events.PhaseChangedEvent, // analyzing -> planning
		events.PhaseChangedEvent, // planning -> executing
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.PhaseChangedEvent, // executing -> verifying
		events.PhaseChangedEvent, // verifying -> complete
		events.WorkflowCompletedEvent,
	}, *seen)
}

func TestExecuteAutoApprovesLowRisk(t *testing.T) {
	engine := newTestEngine(t,
		Config{AutoRequestApproval: true},
		approval.Config{AutoApproveLowRisk: true})

	workflow := engine.CreateWorkflow("low risk edit", editingSteps())
	seen := collectEvents(engine)

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotContains(t, *seen, events.ApprovalRequiredEvent)
}

func TestExecuteLowRiskSkipsGate(t *testing.T) {
	// The gate itself would hold a low-risk workflow until timeout here, so
	// the engine must not consult it at all when no step is high-risk.
	engine := newTestEngine(t,
		Config{AutoRequestApproval: true},
		approval.Config{Timeout: 50 * time.Millisecond})

	workflow := engine.CreateWorkflow("low risk edit", editingSteps())
	seen := collectEvents(engine)

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.PhaseComplete, workflow.Phase)
	assert.NotContains(t, *seen, events.ApprovalRequiredEvent)
	assert.Empty(t, engine.Gate().PendingRequests())
}

func TestExecuteApprovalApproved(t *testing.T) {
	engine := newTestEngine(t, Config{AutoRequestApproval: true}, approval.Config{})

	steps := editingSteps()
	steps[1].RequiresApproval = true
	workflow := engine.CreateWorkflow("risky edit", steps)

	seen := collectEvents(engine)

	// The observer reacts to the approval request the way a UI would,
	// feeding the decision straight back through the gate.
	engine.Subscribe(func(event eventbus.Event) {
		if required, ok := event.(events.ApprovalRequired); ok {
			engine.Gate().Respond(&models.ApprovalResponse{
				RequestID: required.RequestID,
				Approved:  true,
			})
		}
	})

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.PhaseComplete, workflow.Phase)
	assert.Equal(t, models.ApprovalStatusApproved, workflow.ApprovalStatus)
	assert.Contains(t, *seen, events.ApprovalRequiredEvent)
	assert.Contains(t, *seen, events.ApprovalReceivedEvent)
}

func TestExecuteApprovalRejected(t *testing.T) {
	engine := newTestEngine(t, Config{AutoRequestApproval: true}, approval.Config{})

	steps := editingSteps()
	steps[0].RequiresApproval = true
	workflow := engine.CreateWorkflow("risky edit", steps)

	engine.Subscribe(func(event eventbus.Event) {
		if required, ok := event.(events.ApprovalRequired); ok {
			engine.Gate().Respond(&models.ApprovalResponse{
				RequestID: required.RequestID,
				Approved:  false,
				Reason:    "wrong clip selected",
			})
		}
	})

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.CompletedSteps)
	assert.Contains(t, result.Error, "wrong clip selected")

	// Rejection returns the workflow to idle for plan revision.
	assert.Equal(t, models.PhaseIdle, workflow.Phase)
	assert.Equal(t, models.ApprovalStatusRejected, workflow.ApprovalStatus)
	assert.Equal(t, "wrong clip selected", workflow.RejectionReason)
	assert.Equal(t, models.StepStatusPending, workflow.Steps[0].Status)
}

func TestExecuteApprovalTimeout(t *testing.T) {
	engine := newTestEngine(t,
		Config{AutoRequestApproval: true},
		approval.Config{Timeout: 50 * time.Millisecond})

	steps := editingSteps()
	steps[0].RequiresApproval = true
	workflow := engine.CreateWorkflow("risky edit", steps)

	seen := collectEvents(engine)

	result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.ErrorContains(t, errors.New(result.Error), "timed out")
	assert.Equal(t, models.PhaseCancelled, workflow.Phase)
	assert.Contains(t, *seen, events.WorkflowCancelledEvent)
}

func TestExecuteFailFast(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	seen := collectEvents(engine)

	result, err := engine.Execute(context.Background(), workflow.ID, failingExecutor("apply_filter"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Equal(t, 3, result.TotalSteps)
	assert.Contains(t, result.Error, "apply_filter exploded")

	assert.Equal(t, models.PhaseFailed, workflow.Phase)
	assert.Contains(t, workflow.Error, "apply_filter exploded")

	// Steps after the failure are never started.
	assert.Equal(t, models.StepStatusCompleted, workflow.Steps[0].Status)
	assert.Equal(t, models.StepStatusFailed, workflow.Steps[1].Status)
	assert.Equal(t, models.StepStatusPending, workflow.Steps[2].Status)

	assert.Contains(t, *seen, events.StepFailedEvent)
	assert.Contains(t, *seen, events.WorkflowFailedEvent)
	assert.NotContains(t, *seen, events.WorkflowCompletedEvent)
}

func TestExecuteRecoversPanickingExecutor(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	result, err := engine.Execute(context.Background(), workflow.ID,
		func(_ context.Context, step *models.WorkflowStep) (any, error) {
			if step.Tool == "export_video" {
				panic("codec missing")
			}

			return nil, nil
		})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.CompletedSteps)
	assert.Contains(t, result.Error, "panicked")
	assert.Equal(t, models.PhaseFailed, workflow.Phase)
}

func TestExecuteContextCancelledBetweenSteps(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	ctx, cancel := context.WithCancel(context.Background())

	result, err := engine.Execute(ctx, workflow.ID,
		func(_ context.Context, step *models.WorkflowStep) (any, error) {
			if step.Tool == "trim_clip" {
				cancel()
			}

			return nil, nil
		})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.CompletedSteps)
	assert.Equal(t, models.PhaseCancelled, workflow.Phase)
}

func TestCancelDuringApproval(t *testing.T) {
	engine := newTestEngine(t, Config{AutoRequestApproval: true}, approval.Config{})

	steps := editingSteps()
	steps[0].RequiresApproval = true
	workflow := engine.CreateWorkflow("risky edit", steps)

	awaiting := make(chan struct{})

	engine.Subscribe(func(event eventbus.Event) {
		if _, ok := event.(events.ApprovalRequired); ok {
			close(awaiting)
		}
	})

	done := make(chan *Result, 1)

	go func() {
		result, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
		if err == nil {
			done <- result
		}
	}()

	<-awaiting

	assert.True(t, engine.Cancel(context.Background(), workflow.ID, "user closed the panel"))

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "cancelled")
		assert.Contains(t, result.Error, "user closed the panel")
	case <-time.After(time.Second):
		t.Fatal("execution did not unblock after cancellation")
	}

	assert.Equal(t, models.PhaseCancelled, engine.Workflow(workflow.ID).Phase)
}

func TestCancelNotCancellable(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	assert.False(t, engine.Cancel(context.Background(), workflow.ID, "idle is not cancellable"))
	assert.False(t, engine.Cancel(context.Background(), "missing", ""))
}

func TestCancelMidPhase(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhaseAnalyzing))

	seen := collectEvents(engine)

	assert.True(t, engine.Cancel(context.Background(), workflow.ID, "changed my mind"))
	assert.Equal(t, models.PhaseCancelled, workflow.Phase)
	assert.Contains(t, *seen, events.WorkflowCancelledEvent)
}

func TestRollbackNoCheckpoints(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	restored, err := engine.Rollback(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestRollbackUnknownWorkflow(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})

	_, err := engine.Rollback(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestRollbackRestoresLatestCheckpoint(t *testing.T) {
	engine := newTestEngine(t, Config{CheckpointBeforeSteps: true}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	_, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	restored, err := engine.Rollback(context.Background(), workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)

	assert.Equal(t, models.PhaseRolledBack, restored.Phase)
	assert.NotNil(t, restored.CompletedAt)

	// The latest checkpoint was taken before the final step ran.
	assert.Equal(t, models.StepStatusCompleted, restored.Steps[0].Status)
	assert.Equal(t, models.StepStatusCompleted, restored.Steps[1].Status)
	assert.Equal(t, models.StepStatusPending, restored.Steps[2].Status)

	// The restored state replaces the tracked instance.
	tracked := engine.Workflow(workflow.ID)
	require.NotNil(t, tracked)
	assert.Equal(t, models.PhaseRolledBack, tracked.Phase)
	assert.Equal(t, models.StepStatusPending, tracked.Steps[2].Status)
}

func TestRemoveWorkflow(t *testing.T) {
	engine := newTestEngine(t, Config{CheckpointBeforeSteps: true}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	_, err := engine.Execute(context.Background(), workflow.ID, okExecutor)
	require.NoError(t, err)

	require.NoError(t, engine.RemoveWorkflow(context.Background(), workflow.ID))

	assert.Nil(t, engine.Workflow(workflow.ID))

	checkpoints, err := engine.Checkpoints().ListCheckpoints(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	assert.ErrorIs(t, engine.RemoveWorkflow(context.Background(), workflow.ID), ErrWorkflowNotFound)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	engine := newTestEngine(t, Config{}, approval.Config{})
	workflow := engine.CreateWorkflow("edit", editingSteps())

	count := 0
	unsubscribe := engine.Subscribe(func(eventbus.Event) { count++ })

	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhaseAnalyzing))
	assert.Equal(t, 1, count)

	unsubscribe()

	require.True(t, engine.Transition(context.Background(), workflow.ID, models.PhasePlanning))
	assert.Equal(t, 1, count)
}
