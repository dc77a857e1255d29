// Package log bootstraps the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text handler on the default slog logger at the given level
// and returns it. Unknown levels fall back to info.
func Setup(logLevel string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}))

	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a level name to its slog level. Unknown names mean info.
func ParseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns the default logger tagged with a module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
