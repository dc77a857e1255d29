package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/montageio/montage/pkg/approval"
	"github.com/montageio/montage/pkg/checkpoint"
	"github.com/montageio/montage/pkg/cmd"
	"github.com/montageio/montage/pkg/config"
	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/eventbus"
	"github.com/montageio/montage/pkg/events"
	"github.com/montageio/montage/pkg/log"
	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/plan"
	"github.com/montageio/montage/pkg/tools"
	cli "github.com/urfave/cli/v3"
)

// runPlan loads a plan, registers it as a workflow and drives it to a terminal
// phase, printing the result as JSON.
func runPlan(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	logger := log.Setup(cfg.LogLevel).With("module", "cli")

	p, err := plan.Load(command.String("plan"))
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.StorageURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	gate := approval.NewGate(logger, approval.Config{
		Timeout:            cfg.ApprovalTimeout,
		AutoApproveLowRisk: cfg.AutoApproveLowRisk,
	})
	checkpoints := checkpoint.NewManager(logger, persistence,
		checkpoint.WithMaxPerWorkflow(cfg.MaxCheckpointsPerWorkflow))

	eng := engine.NewEngine(logger, gate, checkpoints, engine.Config{
		AutoRequestApproval:   cfg.AutoRequestApproval,
		CheckpointBeforeSteps: cfg.CheckpointBeforeSteps,
	})

	if command.Bool("auto-approve") {
		eng.Subscribe(func(event eventbus.Event) {
			required, ok := event.(events.ApprovalRequired)
			if !ok {
				return
			}

			logger.InfoContext(ctx, "Auto-approving request", "request_id", required.RequestID)
			gate.Respond(&models.ApprovalResponse{
				RequestID: required.RequestID,
				Approved:  true,
				Reason:    "auto-approved from the command line",
			})
		})
	}

	workflow := eng.CreateWorkflow(p.Intent, p.ToSteps())
	executor := tools.Executor(cmd.NewToolRegistry(logger))

	result, err := eng.Execute(ctx, workflow.ID, executor)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("workflow finished in phase %s: %s", eng.Workflow(workflow.ID).Phase, result.Error)
	}

	return nil
}
