package main

import (
	"context"
	"os"

	"github.com/montageio/montage/pkg/approval"
	"github.com/montageio/montage/pkg/checkpoint"
	"github.com/montageio/montage/pkg/cmd"
	"github.com/montageio/montage/pkg/config"
	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/log"
	"github.com/montageio/montage/pkg/metrics"
	"github.com/montageio/montage/pkg/otelhelper"
	"github.com/montageio/montage/pkg/tools"
	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v3"
)

// reminderSchedule is how often pending approvals are swept for ones about to
// expire.
const reminderSchedule = "@every 1m"

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "montage-api",
		Usage:                 "Create, execute and supervise editing workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on (overrides configuration)",
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.Load(command.String("config"))
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel)

			logger.InfoContext(ctx, "Initializing Montage API")

			port := cfg.APIPort
			if command.Int("port") > 0 {
				port = command.Int("port")
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

			eventBus, err := cmd.NewEventBus(cfg.EventBus, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			gate := approval.NewGate(logger, approval.Config{
				Timeout:            cfg.ApprovalTimeout,
				AutoApproveLowRisk: cfg.AutoApproveLowRisk,
			})
			checkpoints := checkpoint.NewManager(logger, persistence,
				checkpoint.WithMaxPerWorkflow(cfg.MaxCheckpointsPerWorkflow))

			opts := []engine.Option{engine.WithEventPublisher(eventBus)}

			if cfg.TracingEnabled {
				tracer, err := otelhelper.NewTracer(ctx, "montage-api")
				if err != nil {
					return err
				}

				opts = append(opts, engine.WithTracer(tracer))
			}

			eng := engine.NewEngine(logger, gate, checkpoints, engine.Config{
				AutoRequestApproval:   cfg.AutoRequestApproval,
				CheckpointBeforeSteps: cfg.CheckpointBeforeSteps,
			}, opts...)

			registry := prometheus.NewRegistry()
			collector := metrics.NewCollector(registry)
			eng.Subscribe(collector.Observe)

			reminder, err := approval.NewReminder(logger, gate, reminderSchedule, approval.DefaultReminderThreshold, nil)
			if err != nil {
				return err
			}

			if err := reminder.Start(); err != nil {
				return err
			}
			defer reminder.Stop()

			executor := tools.Executor(cmd.NewToolRegistry(logger))

			api := NewAPI(logger, eng, executor, registry)

			return api.Start(port)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
