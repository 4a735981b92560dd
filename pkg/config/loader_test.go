package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.LLM, cfg.LLM)
	assert.Equal(t, defaults.Redis.Addr, cfg.Redis.Addr)
	assert.Equal(t, defaults.HTTP.Port, cfg.HTTP.Port)
	assert.Equal(t, defaults.Swarm.MaxConcurrentAgents, cfg.Swarm.MaxConcurrentAgents)
}

func TestInitializeMergesUserValuesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key_env: ANTHROPIC_API_KEY
http:
  port: 9090
swarm:
  maxConcurrentAgents: 80
queues:
  swarm.codeunit.assignments:
    max_queue_size: 500
    enable_priority: true
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 80, cfg.Swarm.MaxConcurrentAgents)
	// Unset fields keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Swarm.MaxAgentsPerProject)
	assert.Equal(t, time.Minute, cfg.Janitor.Interval)

	queue, ok := cfg.Queues["swarm.codeunit.assignments"]
	require.True(t, ok)
	assert.Equal(t, 500, queue.MaxQueueSize)
	assert.True(t, queue.EnablePriority)
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	dir := writeConfig(t, `
redis:
  addr: "{{.TEST_REDIS_ADDR}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "llm: [not: valid")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeRejectsInvalidValues(t *testing.T) {
	dir := writeConfig(t, `
http:
  port: 99999
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "out of range")
}

func TestValidateRejectsBrokenSwarmConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Swarm.MaxConcurrentAgents = -1

	err := validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxConcurrentAgents")
}
