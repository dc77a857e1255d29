// Package models defines the core domain models for workflow orchestration.
package models

// Phase represents one state in a workflow's lifecycle state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAnalyzing        Phase = "analyzing"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseVerifying        Phase = "verifying"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "failed"
	PhaseRolledBack       Phase = "rolled_back"
	PhaseCancelled        Phase = "cancelled"
)

// phaseTransitions maps each phase to the set of phases it may legally move to.
// Terminal phases have no outgoing transitions.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseAnalyzing},
	PhaseAnalyzing:        {PhasePlanning, PhaseFailed, PhaseCancelled},
	PhasePlanning:         {PhaseAwaitingApproval, PhaseExecuting, PhaseFailed, PhaseCancelled},
	PhaseAwaitingApproval: {PhaseExecuting, PhaseIdle, PhaseCancelled},
	PhaseExecuting:        {PhaseVerifying, PhaseFailed, PhaseCancelled},
	PhaseVerifying:        {PhaseComplete, PhaseFailed, PhaseRolledBack},
	PhaseComplete:         {},
	PhaseFailed:           {},
	PhaseRolledBack:       {},
	PhaseCancelled:        {},
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// NextPhases returns the phases a workflow in the given phase may move to.
func NextPhases(from Phase) []Phase {
	next, ok := phaseTransitions[from]
	if !ok {
		return nil
	}

	out := make([]Phase, len(next))
	copy(out, next)

	return out
}

// IsTerminal reports whether the phase is a final state.
func IsTerminal(phase Phase) bool {
	switch phase {
	case PhaseComplete, PhaseFailed, PhaseRolledBack, PhaseCancelled:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a workflow in the given phase may be cancelled.
func IsCancellable(phase Phase) bool {
	switch phase {
	case PhaseAnalyzing, PhasePlanning, PhaseAwaitingApproval, PhaseExecuting:
		return true
	default:
		return false
	}
}

// Phases returns every known phase. Mostly useful for introspection commands.
func Phases() []Phase {
	return []Phase{
		PhaseIdle,
		PhaseAnalyzing,
		PhasePlanning,
		PhaseAwaitingApproval,
		PhaseExecuting,
		PhaseVerifying,
		PhaseComplete,
		PhaseFailed,
		PhaseRolledBack,
		PhaseCancelled,
	}
}
