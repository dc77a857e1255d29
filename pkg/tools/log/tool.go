// Package log provides a tool that writes a message to the structured log.
// Mostly useful as a plan placeholder and in examples.
package log

import (
	"context"
	"log/slog"
)

type Tool struct{}

func NewTool() *Tool {
	return &Tool{}
}

func (*Tool) ID() string {
	return "log"
}

func (*Tool) Execute(_ context.Context, args map[string]any, logger *slog.Logger) (any, error) {
	message, _ := args["message"].(string)
	if message == "" {
		message = "(no message)"
	}

	level := slog.LevelInfo
	if lvl, ok := args["level"].(string); ok && lvl == "debug" {
		level = slog.LevelDebug
	}

	logger.Log(context.Background(), level, message)

	return map[string]any{"logged": message}, nil
}
