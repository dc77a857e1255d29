// Package config provides configuration loading for the montage binaries.
//
// Precedence (highest to lowest): environment variables (MONTAGE_ prefix),
// YAML config file, hardcoded defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MONTAGE_"

// Config holds every tunable of the orchestration binaries.
type Config struct {
	LogLevel   string `koanf:"log_level"   validate:"oneof=debug info warn error"`
	StorageURL string `koanf:"storage_url" validate:"required"`
	EventBus   string `koanf:"event_bus"   validate:"oneof=gochannel kafka"`
	APIPort    int    `koanf:"api_port"    validate:"gte=1,lte=65535"`

	ApprovalTimeout           time.Duration `koanf:"approval_timeout"             validate:"gt=0"`
	AutoApproveLowRisk        bool          `koanf:"auto_approve_low_risk"`
	AutoRequestApproval       bool          `koanf:"auto_request_approval"`
	CheckpointBeforeSteps     bool          `koanf:"checkpoint_before_steps"`
	MaxCheckpointsPerWorkflow int           `koanf:"max_checkpoints_per_workflow" validate:"gte=1"`

	TracingEnabled bool `koanf:"tracing_enabled"`
}

func defaults() map[string]any {
	return map[string]any{
		"log_level":                    "info",
		"storage_url":                  "memory",
		"event_bus":                    "gochannel",
		"api_port":                     9091,
		"approval_timeout":             "5m",
		"auto_approve_low_risk":        false,
		"auto_request_approval":        true,
		"checkpoint_before_steps":      true,
		"max_checkpoints_per_workflow": 10,
		"tracing_enabled":              false,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// MONTAGE_-prefixed environment variables, then validates it.
//
// Example mapping: MONTAGE_APPROVAL_TIMEOUT -> approval_timeout.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
