// Package config loads maestro.yaml: the swarm policy, queue overrides, LLM
// provider selection, Redis/HTTP settings, and artifact locations. Database
// settings come from the environment (see pkg/database), not from YAML.
package config

import (
	"time"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/swarm"
)

// Config is the fully resolved application configuration: YAML merged over
// built-in defaults, ready for use.
type Config struct {
	Swarm     swarm.Config               `yaml:"swarm"`
	Queues    map[string]bus.QueueConfig `yaml:"queues"`
	LLM       LLMConfig                  `yaml:"llm"`
	Redis     RedisConfig                `yaml:"redis"`
	HTTP      HTTPConfig                 `yaml:"http"`
	Artifacts ArtifactsConfig            `yaml:"artifacts"`
	Janitor   JanitorConfig              `yaml:"janitor"`
}

// LLMConfig selects the provider the gateway calls.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// RedisConfig locates the message-bus backing store.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env,omitempty"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// ArtifactsConfig holds the on-disk output locations: the LLM artifact audit
// trail and the build staging tree.
type ArtifactsConfig struct {
	Dir        string `yaml:"dir"`
	StagingDir string `yaml:"staging_dir"`
}

// JanitorConfig governs the background orphan/redelivery sweep.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the built-in defaults a missing or partial
// maestro.yaml is merged over.
func DefaultConfig() Config {
	return Config{
		Swarm:  swarm.DefaultConfig(),
		Queues: map[string]bus.QueueConfig{},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Artifacts: ArtifactsConfig{
			Dir:        "./artifacts",
			StagingDir: "./staging",
		},
		Janitor: JanitorConfig{
			Interval: time.Minute,
		},
	}
}
