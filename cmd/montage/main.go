// Package main provides the montage command line interface.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/montageio/montage/pkg/log"
	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/plan"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "montage",
		Usage:                 "Run and inspect editing workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Execute a workflow plan end to end",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "plan",
						Usage:    "Path to the JSON plan file",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to a YAML configuration file",
						Sources: cli.EnvVars("CONFIG_PATH"),
					},
					&cli.BoolFlag{
						Name:  "auto-approve",
						Usage: "Approve every approval request without prompting",
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return runPlan(ctx, command)
				},
			},
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Check a plan file against the plan schema",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "plan",
						Usage:    "Path to the JSON plan file",
						Required: true,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					p, err := plan.Load(command.String("plan"))
					if err != nil {
						return err
					}

					fmt.Printf("plan ok: %q (%d steps)\n", p.Intent, len(p.Steps))

					return nil
				},
			},
			{
				Name:  "phases",
				Usage: "Print the workflow phase transition table",
				Action: func(ctx context.Context, command *cli.Command) error {
					for _, phase := range models.Phases() {
						next := models.NextPhases(phase)
						if len(next) == 0 {
							fmt.Printf("%-18s (terminal)\n", phase)

							continue
						}

						fmt.Printf("%-18s -> %v\n", phase, next)
					}

					return nil
				},
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
