package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ensemble/maestro/pkg/llm"
)

// validate performs comprehensive validation on loaded configuration.
// Warnings and recommendations are logged; only errors fail the load.
func validate(cfg *Config) error {
	var errs []error

	report := cfg.Swarm.Validate()
	for _, msg := range report.Errors {
		errs = append(errs, fmt.Errorf("swarm: %s", msg))
	}
	for _, msg := range report.Warnings {
		slog.Warn("Swarm configuration warning", "warning", msg)
	}
	for _, msg := range report.Recommendations {
		slog.Info("Swarm configuration recommendation", "recommendation", msg)
	}

	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm: provider is required"))
	} else if names := llm.ProviderNames(); len(names) > 0 && !slices.Contains(names, cfg.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm: unknown provider %q (registered: %v)", cfg.LLM.Provider, names))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm: model is required"))
	}

	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis: addr is required"))
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http: port %d out of range", cfg.HTTP.Port))
	}

	if cfg.Artifacts.Dir == "" {
		errs = append(errs, errors.New("artifacts: dir is required"))
	}

	for name, queue := range cfg.Queues {
		if name == "" {
			errs = append(errs, errors.New("queues: empty queue name"))
		}
		if queue.MaxMessageSizeBytes < 0 || queue.MaxQueueSize < 0 {
			errs = append(errs, fmt.Errorf("queues: %q has negative limits", name))
		}
	}

	return errors.Join(errs...)
}
