package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single YAML file the loader reads from the config dir.
const configFileName = "maestro.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read maestro.yaml from configDir (a missing file means pure defaults)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate the resolved configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"redis_addr", cfg.Redis.Addr,
		"http_port", cfg.HTTP.Port,
		"queue_overrides", len(cfg.Queues))

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	cfg := DefaultConfig()

	user, err := loadYAML(filepath.Join(configDir, configFileName))
	if err != nil {
		return nil, NewLoadError(configFileName, err)
	}
	if user == nil {
		slog.Info("No maestro.yaml found, using built-in defaults")
		return &cfg, nil
	}

	// Non-zero user values override defaults; unset fields keep them.
	if err := mergo.Merge(&cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	return &cfg, nil
}

// loadYAML reads and parses one config file. A missing file returns nil
// without error; the caller decides whether that is acceptable.
func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to handle the content (or fail with a clearer
	// error message).
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
