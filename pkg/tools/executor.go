package tools

import (
	"context"

	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/models"
)

// Executor adapts the registry into a step executor: each step's Tool field
// selects the tool, its Args become the tool's input.
func Executor(registry *Registry) engine.StepExecutor {
	return func(ctx context.Context, step *models.WorkflowStep) (any, error) {
		tool, err := registry.Tool(step.Tool)
		if err != nil {
			return nil, err
		}

		logger := registry.logger.With("tool", step.Tool, "step_id", step.ID)

		return tool.Execute(ctx, step.Args, logger)
	}
}
