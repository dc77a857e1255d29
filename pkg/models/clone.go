package models

// Clone returns a structural deep copy of the workflow state. Checkpointing
// depends on this: mutations to the live workflow after cloning must never
// reach the copy, and vice versa. All step payloads are expected to be plain
// data (maps, slices, scalars) — live callbacks or handles must not be
// embedded in anything that gets checkpointed.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}

	clone := *w

	if w.CompletedAt != nil {
		completedAt := *w.CompletedAt
		clone.CompletedAt = &completedAt
	}

	clone.Steps = make([]*WorkflowStep, len(w.Steps))
	for i, step := range w.Steps {
		clone.Steps[i] = step.Clone()
	}

	return &clone
}

// Clone returns a structural deep copy of the step.
func (s *WorkflowStep) Clone() *WorkflowStep {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Args = cloneMap(s.Args)
	clone.Result = cloneValue(s.Result)

	if s.StartedAt != nil {
		startedAt := *s.StartedAt
		clone.StartedAt = &startedAt
	}

	if s.CompletedAt != nil {
		completedAt := *s.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = cloneValue(v)
	}

	return clone
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return cloneMap(value)
	case []any:
		clone := make([]any, len(value))
		for i, item := range value {
			clone[i] = cloneValue(item)
		}

		return clone
	default:
		return v
	}
}
