package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQueueName(t *testing.T) {
	tests := []struct {
		name    string
		queue   string
		wantErr bool
	}{
		{"simple", "work", false},
		{"dotted", "swarm.codeunit.assignments", false},
		{"dashes and underscores", "my-queue_2", false},
		{"empty", "", true},
		{"space", "my queue", true},
		{"colon", "maestro:queue:x", true},
		{"reserved prefix", "maestro.internal", true},
		{"reserved dlq suffix", "work.dlq", true},
		{"unicode", "queü", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQueueName(tt.queue)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQueueName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyComposition(t *testing.T) {
	// Key shapes are normative: other processes (CLI tooling, janitors)
	// address the same keys.
	assert.Equal(t, "maestro:queue:jobs", queueKey("jobs"))
	assert.Equal(t, "maestro:queue:jobs:priority", priorityKey("jobs"))
	assert.Equal(t, "maestro:config:queue:jobs", configKey("jobs"))
	assert.Equal(t, "maestro:stats:jobs:stats", statsKey("jobs"))
	assert.Equal(t, "maestro:channel:swarm.heartbeats", channelKey("swarm.heartbeats"))
	assert.Equal(t, "jobs.dlq", dlqName("jobs"))
}

func TestReservedQueuesAreValidNames(t *testing.T) {
	for _, q := range ReservedQueues {
		require.NoError(t, ValidateQueueName(q), q)
	}
	for _, ch := range ReservedChannels {
		require.NoError(t, ValidateQueueName(ch), ch)
	}
}
