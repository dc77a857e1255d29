package models

import "time"

// Checkpoint is an immutable snapshot of a workflow's full state at a point
// in time, used for rollback. Seq is a monotonically increasing insertion
// number used to break ties between checkpoints sharing a creation timestamp.
type Checkpoint struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	State       *WorkflowState `json:"state"`
	Seq         uint64         `json:"seq"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Clone returns a structural deep copy of the checkpoint, including the
// captured workflow state.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}

	clone := *c
	clone.State = c.State.Clone()
	clone.Metadata = cloneMap(c.Metadata)

	return &clone
}
