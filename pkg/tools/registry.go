// Package tools provides the step executor toolbox: a registry of named tools
// the engine can run workflow steps against.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Tool is a named operation a workflow step can invoke. Tools are stateless;
// everything a run needs arrives in the step's args.
type Tool interface {
	ID() string
	Execute(ctx context.Context, args map[string]any, logger *slog.Logger) (any, error)
}

type Registry struct {
	logger *slog.Logger
	tools  map[string]Tool
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("module", "tools"),
		tools:  make(map[string]Tool),
	}
}

func (r *Registry) Register(tool Tool) {
	r.tools[tool.ID()] = tool
}

func (r *Registry) Tool(id string) (Tool, error) {
	tool, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool '%s' not registered", id)
	}

	return tool, nil
}

// IDs returns the registered tool names, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
