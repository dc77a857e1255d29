// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/montageio/montage/pkg/persistence"
	"github.com/montageio/montage/pkg/persistence/file"
	"github.com/montageio/montage/pkg/persistence/memory"
	"github.com/montageio/montage/pkg/persistence/postgresql"
	"github.com/montageio/montage/pkg/persistence/redis"
)

// NewPersistence builds a checkpoint store from a storage URL. The scheme
// selects the backend: postgres://, redis://, file:// (or a bare path), and
// "memory" for the in-process default.
func NewPersistence(ctx context.Context, logger *slog.Logger, storageURL string) (persistence.Persistence, error) {
	switch parseStorageProvider(storageURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, storageURL)
	case "redis":
		return redis.NewPersistence(ctx, storageURL)
	case "memory":
		return memory.NewPersistence(), nil
	case "file":
		return file.NewPersistence(storageURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage URL: %s", storageURL)
	}
}

func parseStorageProvider(storageURL string) string {
	if storageURL == "" || storageURL == "memory" {
		return "memory"
	}

	scheme, _, found := strings.Cut(storageURL, "://")
	if !found {
		// A bare path means file storage.
		return "file"
	}

	return scheme
}
