// Package bus implements the typed, prioritized, size-bounded message
// coordinator over Redis. Queues are Redis lists (FIFO) or sorted sets
// (priority); channels use native pub/sub. All key composition lives in this
// file — no other package, and no other file in this package, concatenates
// key strings. Sender/consumer key mismatch was the largest historical bug
// class in the system this replaces, so it is ruled out by construction.
package bus

import (
	"fmt"
	"regexp"
	"strings"
)

const keyPrefix = "maestro"

// dlqSuffix is appended to a queue name to form its dead-letter companion.
const dlqSuffix = ".dlq"

// queueNamePattern is the only shape a queue or channel name may take.
var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Reserved queue names. Each has a dead-letter companion.
const (
	QueueSpawnRequests        = "swarm.spawn.requests"
	QueueCompletions          = "swarm.completions"
	QueueFunctionAssignments  = "swarm.function.assignments"
	QueueCodeUnitAssignments  = "swarm.codeunit.assignments"
	QueueWorkloadDistribution = "swarm.workload.distribution"
	QueueBuilderNotifications = "builder.notifications"
	QueueBuilderErrors        = "builder.errors"
)

// Reserved pub/sub channels. Fan-out, no retention.
const (
	ChannelStatusUpdates = "swarm.status.updates"
	ChannelHeartbeats    = "swarm.heartbeats"
	ChannelShutdown      = "swarm.shutdown"
)

// ReservedQueues lists every queue the coordinator declares at startup.
var ReservedQueues = []string{
	QueueSpawnRequests,
	QueueCompletions,
	QueueFunctionAssignments,
	QueueCodeUnitAssignments,
	QueueWorkloadDistribution,
	QueueBuilderNotifications,
	QueueBuilderErrors,
}

// ReservedChannels lists every pub/sub channel the coordinator uses.
var ReservedChannels = []string{
	ChannelStatusUpdates,
	ChannelHeartbeats,
	ChannelShutdown,
}

// ValidateQueueName rejects names that do not match the allowed pattern or
// that collide with reserved key structure. Dead-letter names are composed
// internally via dlqName and may not be created directly.
func ValidateQueueName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidQueueName)
	}
	if !queueNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidQueueName, name, queueNamePattern.String())
	}
	if strings.HasPrefix(name, keyPrefix+".") || strings.HasPrefix(name, keyPrefix+":") {
		return fmt.Errorf("%w: %q uses the reserved prefix %q", ErrInvalidQueueName, name, keyPrefix)
	}
	if strings.HasSuffix(name, dlqSuffix) {
		return fmt.Errorf("%w: %q uses the reserved suffix %q", ErrInvalidQueueName, name, dlqSuffix)
	}
	return nil
}

// dlqName returns the dead-letter companion for a queue.
func dlqName(queue string) string {
	return queue + dlqSuffix
}

// queueKey is the list (or, for DLQs, always a list) holding waiting messages.
func queueKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s", keyPrefix, queue)
}

// priorityKey is the sorted set holding waiting messages of a priority queue.
func priorityKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:priority", keyPrefix, queue)
}

// inflightKey is the hash of delivered-but-unacknowledged envelopes, by id.
func inflightKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:inflight", keyPrefix, queue)
}

// deadlineKey is the sorted set of visibility-timeout deadlines, by id.
func deadlineKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:inflight:deadlines", keyPrefix, queue)
}

// configKey is the hash holding the persisted queue configuration.
func configKey(queue string) string {
	return fmt.Sprintf("%s:config:queue:%s", keyPrefix, queue)
}

// statsKey is the hash of per-queue counters.
func statsKey(queue string) string {
	return fmt.Sprintf("%s:stats:%s:stats", keyPrefix, queue)
}

// registryKey is the set of every declared queue name.
func registryKey() string {
	return keyPrefix + ":queues"
}

// channelKey is the Redis pub/sub channel for a named bus channel.
func channelKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s", keyPrefix, channel)
}
