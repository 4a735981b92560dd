// Package swarm implements the agent swarm: the spawn policy (capacity,
// throttling, priority, auto-scaling), the code-unit controller that fans
// assignments out to method workers, and the supervisor loop that feeds the
// controller from the assignment queue.
package swarm

import (
	"fmt"
	"time"
)

// Config is the full swarm policy configuration.
type Config struct {
	MaxConcurrentAgents          int     `yaml:"maxConcurrentAgents"`
	MaxAgentsPerProject          int     `yaml:"maxAgentsPerProject"`
	MaxCostPerProject            float64 `yaml:"maxCostPerProject"`
	MaxControllers               int     `yaml:"maxControllers"`
	MaxMethodAgentsPerController int     `yaml:"maxMethodAgentsPerController"`

	Priority       PriorityConfig           `yaml:"priority"`
	Retry          RetryConfig              `yaml:"retry"`
	Throttling     ThrottleConfig           `yaml:"throttling"`
	AutoScaling    AutoScaleConfig          `yaml:"autoScaling"`
	ResourceLimits map[string]ResourceLimit `yaml:"resourceLimits"`
	Health         HealthConfig             `yaml:"health"`
}

// PriorityConfig governs spawn priority scoring.
type PriorityConfig struct {
	DefaultPriority         int      `yaml:"defaultPriority"`
	MaxPriority             int      `yaml:"maxPriority"`
	ComplexityPriorityBoost int      `yaml:"complexityPriorityBoost"`
	UrgentPriorityBoost     int      `yaml:"urgentPriorityBoost"`
	HighPriorityAgentTypes  []string `yaml:"highPriorityAgentTypes"`
}

// RetryConfig governs caller-driven retry of failed agent work.
type RetryConfig struct {
	MaxRetryAttempts int           `yaml:"maxRetryAttempts"`
	InitialDelay     time.Duration `yaml:"initialDelay"`
	BackoffFactor    float64       `yaml:"backoffFactor"`
}

// ThrottleConfig governs spawn-rate limiting.
type ThrottleConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxAgentsPerSecond int  `yaml:"maxAgentsPerSecond"`
	MaxAgentsPerMinute int  `yaml:"maxAgentsPerMinute"`
	MinSpawnIntervalMs int  `yaml:"minSpawnIntervalMs"`
}

// AutoScaleConfig governs scale recommendations from queue depth.
type AutoScaleConfig struct {
	Enabled            bool `yaml:"enabled"`
	ScaleUpThreshold   int  `yaml:"scaleUpThreshold"`
	ScaleDownThreshold int  `yaml:"scaleDownThreshold"`
	ScaleUpIncrement   int  `yaml:"scaleUpIncrement"`
	ScaleDownIncrement int  `yaml:"scaleDownIncrement"`
	MinAgents          int  `yaml:"minAgents"`
}

// ResourceLimit caps one agent type.
type ResourceLimit struct {
	MaxTokens           int     `yaml:"maxTokens"`
	MaxCostPerExecution float64 `yaml:"maxCostPerExecution"`
	MaxConcurrent       int     `yaml:"maxConcurrent"`
}

// HealthConfig governs swarm health assessment.
type HealthConfig struct {
	MinSuccessRatePercent      float64 `yaml:"minSuccessRatePercent"`
	HealthCheckIntervalSeconds int     `yaml:"healthCheckIntervalSeconds"`
}

// MethodAgentType is the resource-limit key for method workers.
const MethodAgentType = "MethodAgent"

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAgents:          50,
		MaxAgentsPerProject:          20,
		MaxCostPerProject:            100.0,
		MaxControllers:               10,
		MaxMethodAgentsPerController: 10,
		Priority: PriorityConfig{
			DefaultPriority:         5,
			MaxPriority:             10,
			ComplexityPriorityBoost: 2,
			UrgentPriorityBoost:     2,
			HighPriorityAgentTypes:  []string{"SystemArchitect"},
		},
		Retry: RetryConfig{
			MaxRetryAttempts: 3,
			InitialDelay:     time.Second,
			BackoffFactor:    2.0,
		},
		Throttling: ThrottleConfig{
			Enabled:            true,
			MaxAgentsPerSecond: 10,
			MaxAgentsPerMinute: 100,
			MinSpawnIntervalMs: 100,
		},
		AutoScaling: AutoScaleConfig{
			Enabled:            true,
			ScaleUpThreshold:   50,
			ScaleDownThreshold: 5,
			ScaleUpIncrement:   5,
			ScaleDownIncrement: 2,
			MinAgents:          2,
		},
		ResourceLimits: map[string]ResourceLimit{
			MethodAgentType: {
				MaxTokens:           8192,
				MaxCostPerExecution: 0.50,
				MaxConcurrent:       8,
			},
		},
		Health: HealthConfig{
			MinSuccessRatePercent:      80,
			HealthCheckIntervalSeconds: 30,
		},
	}
}

// ValidationReport is the outcome of validating a swarm configuration.
// A config with errors must not be applied.
type ValidationReport struct {
	Errors          []string
	Warnings        []string
	Recommendations []string
}

// Valid reports whether the configuration can be applied.
func (r *ValidationReport) Valid() bool { return len(r.Errors) == 0 }

// Validate checks a swarm configuration for errors, warnings, and
// recommendations.
func (c *Config) Validate() *ValidationReport {
	report := &ValidationReport{}
	addErr := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}

	if c.MaxConcurrentAgents <= 0 {
		addErr("maxConcurrentAgents must be positive, got %d", c.MaxConcurrentAgents)
	}
	if c.MaxAgentsPerProject <= 0 {
		addErr("maxAgentsPerProject must be positive, got %d", c.MaxAgentsPerProject)
	}
	if c.MaxAgentsPerProject > c.MaxConcurrentAgents {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("maxAgentsPerProject (%d) exceeds maxConcurrentAgents (%d); the global cap wins",
				c.MaxAgentsPerProject, c.MaxConcurrentAgents))
	}
	if c.MaxCostPerProject <= 0 {
		addErr("maxCostPerProject must be positive, got %v", c.MaxCostPerProject)
	}

	if c.Priority.MaxPriority < c.Priority.DefaultPriority {
		addErr("priority.maxPriority (%d) below defaultPriority (%d)",
			c.Priority.MaxPriority, c.Priority.DefaultPriority)
	}
	if c.Priority.DefaultPriority < 1 {
		addErr("priority.defaultPriority must be >= 1, got %d", c.Priority.DefaultPriority)
	}

	if c.Throttling.Enabled {
		if c.Throttling.MaxAgentsPerSecond <= 0 {
			addErr("throttling.maxAgentsPerSecond must be positive when throttling is enabled")
		}
		if c.Throttling.MaxAgentsPerMinute <= 0 {
			addErr("throttling.maxAgentsPerMinute must be positive when throttling is enabled")
		}
		if c.Throttling.MaxAgentsPerSecond*60 < c.Throttling.MaxAgentsPerMinute {
			report.Recommendations = append(report.Recommendations,
				"throttling.maxAgentsPerMinute is unreachable given maxAgentsPerSecond; consider lowering it")
		}
	}

	if c.AutoScaling.Enabled && c.AutoScaling.ScaleDownThreshold >= c.AutoScaling.ScaleUpThreshold {
		addErr("autoScaling.scaleDownThreshold (%d) must be below scaleUpThreshold (%d)",
			c.AutoScaling.ScaleDownThreshold, c.AutoScaling.ScaleUpThreshold)
	}

	if c.MaxConcurrentAgents > 500 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("maxConcurrentAgents (%d) is unusually high", c.MaxConcurrentAgents))
	}

	if _, ok := c.ResourceLimits[MethodAgentType]; !ok {
		report.Recommendations = append(report.Recommendations,
			"no resource limit for MethodAgent; method fan-out falls back to maxMethodAgentsPerController")
	}

	return report
}

// MethodConcurrency returns the per-assignment worker bound.
func (c *Config) MethodConcurrency() int {
	if limit, ok := c.ResourceLimits[MethodAgentType]; ok && limit.MaxConcurrent > 0 {
		return limit.MaxConcurrent
	}
	if c.MaxMethodAgentsPerController > 0 {
		return c.MaxMethodAgentsPerController
	}
	return 1
}
