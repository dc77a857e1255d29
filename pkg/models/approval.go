package models

import "time"

// RiskLevel classifies how much scrutiny a workflow deserves before execution.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// ClassifyRisk derives a risk level from the number of high-risk steps:
// 0 is low, 1-2 is medium, 3 or more is high.
func ClassifyRisk(highRiskSteps int) RiskLevel {
	switch {
	case highRiskSteps == 0:
		return RiskLevelLow
	case highRiskSteps <= 2:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// ApprovalStepSummary is the redacted per-step view presented to a human.
// Tool arguments are deliberately omitted.
type ApprovalStepSummary struct {
	ID               string `json:"id"`
	Tool             string `json:"tool"`
	Description      string `json:"description"`
	RequiresApproval bool   `json:"requires_approval"`
}

// ApprovalRequest is a point-in-time snapshot of a workflow presented for
// human sign-off. The expiry deadline is fixed at creation and never extends.
type ApprovalRequest struct {
	ID            string                `json:"id"`
	WorkflowID    string                `json:"workflow_id"`
	Steps         []ApprovalStepSummary `json:"steps"`
	RiskLevel     RiskLevel             `json:"risk_level"`
	TotalSteps    int                   `json:"total_steps"`
	HighRiskSteps int                   `json:"high_risk_steps"`
	Summary       string                `json:"summary"`
	CreatedAt     time.Time             `json:"created_at"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

// ApprovalResponse is the human decision on a pending request. It is consumed
// immediately to resolve the waiting operation and not retained afterwards.
type ApprovalResponse struct {
	RequestID   string    `json:"request_id"  validate:"required"`
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}
