// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/montageio/montage/pkg/models"
)

type EventType string

// Topic is the channel topic lifecycle events are relayed on when an external
// event bus is configured.
const Topic = "montage.workflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	PhaseChangedEvent      EventType = "workflow.phase.changed"
	StepStartedEvent       EventType = "workflow.step.started"
	StepCompletedEvent     EventType = "workflow.step.completed"
	StepFailedEvent        EventType = "workflow.step.failed"
	ApprovalRequiredEvent  EventType = "workflow.approval.required"
	ApprovalReceivedEvent  EventType = "workflow.approval.received"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowFailedEvent    EventType = "workflow.failed"
	WorkflowCancelledEvent EventType = "workflow.cancelled"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func (b BaseEvent) GetWorkflowID() string {
	return b.WorkflowID
}

// PhaseChanged is emitted on every successful phase transition.
type PhaseChanged struct {
	BaseEvent

	Phase         models.Phase `json:"phase"`
	PreviousPhase models.Phase `json:"previous_phase"`
}

func (e PhaseChanged) GetType() EventType {
	return PhaseChangedEvent
}

type StepStarted struct {
	BaseEvent

	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	Tool        string `json:"tool"`
	Description string `json:"description,omitempty"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string `json:"step_id"`
	StepIndex  int    `json:"step_index"`
	Progress   int    `json:"progress"`
	Result     any    `json:"result,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepIndex int    `json:"step_index"`
	Error     string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

// ApprovalRequired is emitted when a workflow suspends waiting for human
// sign-off. The UI collaborator is expected to present the request and feed
// the decision back through the approval gate.
type ApprovalRequired struct {
	BaseEvent

	RequestID string           `json:"request_id"`
	RiskLevel models.RiskLevel `json:"risk_level"`
	Summary   string           `json:"summary"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (e ApprovalRequired) GetType() EventType {
	return ApprovalRequiredEvent
}

type ApprovalReceived struct {
	BaseEvent

	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

func (e ApprovalReceived) GetType() EventType {
	return ApprovalReceivedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	CompletedSteps int   `json:"completed_steps"`
	DurationMs     int64 `json:"duration_ms"`
}

func (e WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Error          string `json:"error"`
	CompletedSteps int    `json:"completed_steps"`
}

func (e WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type WorkflowCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}
