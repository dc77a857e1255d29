// Package plan loads workflow plans: an intent plus an ordered step list,
// authored as JSON and validated before the engine ever sees them.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/montageio/montage/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Step is one planned tool invocation.
type Step struct {
	Tool             string         `json:"tool"              validate:"required"`
	Args             map[string]any `json:"args,omitempty"`
	Description      string         `json:"description,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
}

// Plan is a workflow definition as authored by a user or produced by the
// assistant.
type Plan struct {
	Intent string `json:"intent" validate:"required"`
	Steps  []Step `json:"steps"  validate:"required,min=1,dive"`
}

// schema mirrors the Plan structure for pre-decode validation, so malformed
// documents fail with field-level messages instead of decode errors.
func schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"required":             []any{"intent", "steps"},
		"additionalProperties": false,
		"properties": map[string]any{
			"intent": map[string]any{"type": "string", "minLength": 1},
			"steps": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"required":             []any{"tool"},
					"additionalProperties": false,
					"properties": map[string]any{
						"tool":              map[string]any{"type": "string", "minLength": 1},
						"args":              map[string]any{"type": "object"},
						"description":       map[string]any{"type": "string"},
						"requires_approval": map[string]any{"type": "boolean"},
					},
				},
			},
		},
	}
}

// Parse validates and decodes a JSON plan document.
func Parse(data []byte) (*Plan, error) {
	var document map[string]any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}

	if err := validateSchema(document); err != nil {
		return nil, err
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("plan validation failed: %w", err)
	}

	return &p, nil
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}

	return Parse(data)
}

// ToSteps converts the plan into engine-ready workflow steps.
func (p *Plan) ToSteps() []*models.WorkflowStep {
	steps := make([]*models.WorkflowStep, len(p.Steps))

	for i, step := range p.Steps {
		steps[i] = &models.WorkflowStep{
			Tool:             step.Tool,
			Args:             step.Args,
			Description:      step.Description,
			RequiresApproval: step.RequiresApproval,
		}
	}

	return steps
}

func validateSchema(document map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema())
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate plan: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("invalid plan: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
