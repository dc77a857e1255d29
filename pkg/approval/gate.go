// Package approval mediates human sign-off for risky workflows before execution.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montageio/montage/pkg/models"
)

// DefaultTimeout is how long a request waits for a human decision before it
// expires. Each request's deadline is fixed at creation time.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrRequestNotFound indicates a wait was attempted on an unknown request id.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrTimeout indicates the request expired before a decision arrived.
	ErrTimeout = errors.New("approval request timed out")

	// ErrCancelled indicates the request was cancelled before a decision arrived.
	ErrCancelled = errors.New("approval request cancelled")
)

// RequestObserver is notified when a new approval request is created.
type RequestObserver func(request *models.ApprovalRequest)

// ResponseObserver is notified when a pending request receives a decision.
type ResponseObserver func(response *models.ApprovalResponse)

type Config struct {
	// Timeout applies to every request created by the gate. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// AutoApproveLowRisk makes CreateRequest return nil for workflows with no
	// high-risk steps, letting the engine proceed without a human in the loop.
	AutoApproveLowRisk bool
}

type waitOutcome struct {
	response *models.ApprovalResponse
	err      error
}

type pendingRequest struct {
	request *models.ApprovalRequest
	outcome chan waitOutcome
	timer   *time.Timer

	// resolved flips once a decision, expiry or cancellation wins the race.
	// The entry stays in the map until the waiter consumes the outcome, so a
	// decision arriving before WaitForResponse starts is not lost.
	resolved bool
}

// Gate tracks pending human-approval requests and resolves each exactly once:
// an explicit response, the fixed expiry deadline, or cancellation — whichever
// fires first wins, and the losing paths become no-ops.
type Gate struct {
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	pending map[string]*pendingRequest

	nextObserverID int
	requestObs     map[int]RequestObserver
	responseObs    map[int]ResponseObserver
	requestOrder   []int
	responseOrder  []int
}

func NewGate(logger *slog.Logger, cfg Config) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Gate{
		logger:      logger.With("module", "approval_gate"),
		cfg:         cfg,
		pending:     make(map[string]*pendingRequest),
		requestObs:  make(map[int]RequestObserver),
		responseObs: make(map[int]ResponseObserver),
	}
}

// CreateRequest builds an approval request for the workflow and stores it as
// pending. Returns nil when the workflow has no high-risk steps and the gate
// auto-approves low risk. Risk is recomputed from the step list on every call.
func (g *Gate) CreateRequest(workflow *models.WorkflowState, summary string) *models.ApprovalRequest {
	highRisk := workflow.HighRiskStepCount()

	if highRisk == 0 && g.cfg.AutoApproveLowRisk {
		g.logger.Debug("Auto-approving low risk workflow", "workflow_id", workflow.ID)

		return nil
	}

	if summary == "" {
		summary = fmt.Sprintf("%s (%d steps, %d high-risk)", workflow.Intent, len(workflow.Steps), highRisk)
	}

	steps := make([]models.ApprovalStepSummary, len(workflow.Steps))
	for i, step := range workflow.Steps {
		steps[i] = models.ApprovalStepSummary{
			ID:               step.ID,
			Tool:             step.Tool,
			Description:      step.Description,
			RequiresApproval: step.RequiresApproval,
		}
	}

	now := time.Now().UTC()
	request := &models.ApprovalRequest{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		Steps:         steps,
		RiskLevel:     models.ClassifyRisk(highRisk),
		TotalSteps:    len(workflow.Steps),
		HighRiskSteps: highRisk,
		Summary:       summary,
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.cfg.Timeout),
	}

	pending := &pendingRequest{
		request: request,
		outcome: make(chan waitOutcome, 1),
	}
	pending.timer = time.AfterFunc(g.cfg.Timeout, func() {
		g.expire(request.ID)
	})

	g.mu.Lock()
	g.pending[request.ID] = pending
	g.mu.Unlock()

	g.logger.Info("Approval request created",
		"request_id", request.ID,
		"workflow_id", workflow.ID,
		"risk_level", request.RiskLevel,
		"expires_at", request.ExpiresAt,
	)

	g.notifyRequestObservers(request)

	return request
}

// WaitForResponse suspends the caller until the request is answered, expires
// or is cancelled. An unknown request id fails immediately: there is nothing
// to wait on.
func (g *Gate) WaitForResponse(ctx context.Context, requestID string) (*models.ApprovalResponse, error) {
	g.mu.Lock()
	pending, ok := g.pending[requestID]
	g.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	select {
	case outcome := <-pending.outcome:
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()

		return outcome.response, outcome.err
	case <-ctx.Done():
		// The waiter is gone, so nothing will ever consume the outcome.
		// Drop the entry now instead of leaking it.
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()

		pending.timer.Stop()

		return nil, ctx.Err()
	}
}

// Respond resolves the pending request named by the response. Responses for
// unknown or already-expired requests are logged and silently ignored.
func (g *Gate) Respond(response *models.ApprovalResponse) {
	if response.RespondedAt.IsZero() {
		response.RespondedAt = time.Now().UTC()
	}

	resolved := g.resolve(response.RequestID, waitOutcome{response: response})
	if !resolved {
		g.logger.Warn("Ignoring response for unknown or expired approval request",
			"request_id", response.RequestID,
		)

		return
	}

	g.logger.Info("Approval response received",
		"request_id", response.RequestID,
		"approved", response.Approved,
	)

	g.notifyResponseObservers(response)
}

// CancelRequest removes a pending request, failing any waiter with a
// cancellation error carrying the given reason. Returns false if the request
// was not pending.
func (g *Gate) CancelRequest(requestID, reason string) bool {
	if reason == "" {
		reason = requestID
	}

	cancelled := g.resolve(requestID, waitOutcome{
		err: fmt.Errorf("%w: %s", ErrCancelled, reason),
	})

	if cancelled {
		g.logger.Info("Approval request cancelled", "request_id", requestID, "reason", reason)
	}

	return cancelled
}

// CancelForWorkflow cancels every pending request owned by the workflow and
// returns how many were cancelled.
func (g *Gate) CancelForWorkflow(workflowID, reason string) int {
	g.mu.Lock()

	ids := make([]string, 0, 1)

	for id, pending := range g.pending {
		if pending.request.WorkflowID == workflowID && !pending.resolved {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	cancelled := 0

	for _, id := range ids {
		if g.CancelRequest(id, reason) {
			cancelled++
		}
	}

	return cancelled
}

// PendingRequests returns a snapshot of the requests currently awaiting a
// decision, ordered by creation time.
func (g *Gate) PendingRequests() []*models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	requests := make([]*models.ApprovalRequest, 0, len(g.pending))
	for _, pending := range g.pending {
		if pending.resolved {
			continue
		}

		requests = append(requests, pending.request)
	}

	sortRequestsByCreation(requests)

	return requests
}

// PendingRequest returns the pending request with the given id, or nil.
func (g *Gate) PendingRequest(requestID string) *models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, ok := g.pending[requestID]
	if !ok || pending.resolved {
		return nil
	}

	return pending.request
}

// resolve delivers the outcome to the waiter, exactly once. The request stays
// tracked (marked resolved) until the waiter picks the outcome up. Late
// resolutions return false.
func (g *Gate) resolve(requestID string, outcome waitOutcome) bool {
	g.mu.Lock()

	pending, ok := g.pending[requestID]
	if !ok || pending.resolved {
		g.mu.Unlock()

		return false
	}

	pending.resolved = true
	g.mu.Unlock()

	pending.timer.Stop()
	pending.outcome <- outcome

	return true
}

func (g *Gate) expire(requestID string) {
	expired := g.resolve(requestID, waitOutcome{
		err: fmt.Errorf("%w: %s", ErrTimeout, requestID),
	})

	if expired {
		g.logger.Warn("Approval request expired without a response", "request_id", requestID)
	}
}

func sortRequestsByCreation(requests []*models.ApprovalRequest) {
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}
