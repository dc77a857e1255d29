package cmd

import (
	"log/slog"

	"github.com/montageio/montage/pkg/tools"
	"github.com/montageio/montage/pkg/tools/httprequest"
	logtool "github.com/montageio/montage/pkg/tools/log"
)

// NewToolRegistry builds the registry of native tools plans can reference.
func NewToolRegistry(logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry(logger)

	registry.Register(logtool.NewTool())
	registry.Register(httprequest.NewTool())

	return registry
}
