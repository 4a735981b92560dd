package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ensemble/maestro/pkg/metrics"
)

// Priority bounds for queue messages.
const (
	MinPriority = 1
	MaxPriority = 10
)

// priorityScoreBand separates priority tiers in the sorted-set score. Scores
// are (MaxPriority - priority) * band + enqueuedAtMillis, so ZPOPMIN yields
// highest priority first and FIFO within a tier (millisecond resolution).
const priorityScoreBand = 1e13

// Coordinator is the message bus. It is created once at startup and injected
// into every component that sends or consumes work; there is no package-level
// instance.
type Coordinator struct {
	rdb redis.UniversalClient
	log *slog.Logger

	// Config cache. The coordinator is the only writer of queue configs;
	// other components read queue behavior through its methods.
	mu      sync.RWMutex
	configs map[string]QueueConfig
}

// NewCoordinator creates a Coordinator over an existing Redis client.
func NewCoordinator(rdb redis.UniversalClient) *Coordinator {
	return &Coordinator{
		rdb:     rdb,
		log:     slog.With("component", "bus"),
		configs: make(map[string]QueueConfig),
	}
}

// Initialize declares every reserved queue. Assignment and builder queues are
// priority-ordered; the rest are FIFO. Safe to call more than once.
func (c *Coordinator) Initialize(ctx context.Context) error {
	priorityQueues := map[string]bool{
		QueueCodeUnitAssignments:  true,
		QueueFunctionAssignments:  true,
		QueueBuilderNotifications: true,
		QueueBuilderErrors:        true,
	}
	for _, name := range ReservedQueues {
		cfg := DefaultQueueConfig()
		cfg.EnablePriority = priorityQueues[name]
		if err := c.CreateQueue(ctx, name, cfg); err != nil {
			return fmt.Errorf("declaring queue %s: %w", name, err)
		}
	}
	c.log.Info("Message bus initialized", "queues", len(ReservedQueues))
	return nil
}

// CreateQueue declares a queue with the given configuration. Zero-valued
// fields take the documented defaults. Re-declaring overwrites the config.
func (c *Coordinator) CreateQueue(ctx context.Context, queue string, cfg QueueConfig) error {
	if err := ValidateQueueName(queue); err != nil {
		return err
	}
	cfg = cfg.withDefaults(queue)

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling queue config: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, configKey(queue), "config", raw)
	pipe.SAdd(ctx, registryKey(), queue, cfg.DeadLetterQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persisting queue config: %w", err)
	}

	c.mu.Lock()
	c.configs[queue] = cfg
	c.mu.Unlock()
	return nil
}

// queueConfig resolves the configuration for a queue, consulting the cache
// first and Redis second.
func (c *Coordinator) queueConfig(ctx context.Context, queue string) (QueueConfig, error) {
	c.mu.RLock()
	cfg, ok := c.configs[queue]
	c.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	raw, err := c.rdb.HGet(ctx, configKey(queue), "config").Result()
	if errors.Is(err, redis.Nil) {
		return QueueConfig{}, fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	if err != nil {
		return QueueConfig{}, fmt.Errorf("loading queue config: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return QueueConfig{}, fmt.Errorf("decoding queue config: %w", err)
	}

	c.mu.Lock()
	c.configs[queue] = cfg
	c.mu.Unlock()
	return cfg, nil
}

// Send serializes the payload as canonical JSON and enqueues it at the
// default priority. Payloads larger than the queue's size limit are truncated
// by clipping long string fields; if still too large the send fails with
// ErrOversizedMessage and nothing is enqueued.
func (c *Coordinator) Send(ctx context.Context, queue string, payload any, ttl time.Duration) (*SendResult, error) {
	return c.send(ctx, queue, payload, 0, ttl, false)
}

// SendPriority enqueues with an explicit priority (1..10). Fails with
// ErrPriorityNotEnabled on FIFO queues.
func (c *Coordinator) SendPriority(ctx context.Context, queue string, payload any, priority int, ttl time.Duration) (*SendResult, error) {
	return c.send(ctx, queue, payload, priority, ttl, true)
}

func (c *Coordinator) send(ctx context.Context, queue string, payload any, priority int, ttl time.Duration, explicitPriority bool) (*SendResult, error) {
	cfg, err := c.queueConfig(ctx, queue)
	if err != nil {
		return nil, err
	}
	if explicitPriority {
		if !cfg.EnablePriority {
			return nil, fmt.Errorf("%w: %s", ErrPriorityNotEnabled, queue)
		}
		if priority < MinPriority {
			priority = MinPriority
		}
		if priority > MaxPriority {
			priority = MaxPriority
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.DefaultExpiration
	}

	now := time.Now()
	env := Envelope{
		ID:         uuid.New().String(),
		Data:       data,
		Timestamp:  now,
		ExpiresAt:  now.Add(ttl),
		Priority:   priority,
		MaxRetries: cfg.MaxRetries,
		QueueName:  queue,
	}

	raw, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	result := &SendResult{ID: env.ID, SizeBytes: len(raw)}
	if len(raw) > cfg.MaxMessageSizeBytes {
		originalSize := len(raw)
		truncated, changed, terr := truncatePayload(env.Data)
		if terr != nil || !changed {
			c.countStat(ctx, queue, statOversized)
			return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrOversizedMessage, originalSize, cfg.MaxMessageSizeBytes)
		}
		env.Data = truncated
		raw, err = json.Marshal(&env)
		if err != nil {
			return nil, fmt.Errorf("marshaling truncated envelope: %w", err)
		}
		if len(raw) > cfg.MaxMessageSizeBytes {
			c.countStat(ctx, queue, statOversized)
			return nil, fmt.Errorf("%w: %d bytes after truncation, limit %d", ErrOversizedMessage, len(raw), cfg.MaxMessageSizeBytes)
		}
		result.Truncated = true
		result.SizeBytes = len(raw)
		result.OriginalSizeInfo = fmt.Sprintf("Original: %d bytes, Truncated: <=%d bytes", originalSize, cfg.MaxMessageSizeBytes)
	}

	depth, err := c.depth(ctx, queue, cfg)
	if err != nil {
		return nil, err
	}
	if depth >= int64(cfg.MaxQueueSize) {
		return nil, fmt.Errorf("%w: %s at %d messages", ErrQueueFull, queue, depth)
	}

	if err := c.enqueueRaw(ctx, queue, cfg, &env, raw); err != nil {
		return nil, err
	}

	c.countStat(ctx, queue, statSends)
	metrics.BusSends.WithLabelValues(queue).Inc()
	metrics.QueueDepth.WithLabelValues(queue).Set(float64(depth + 1))
	return result, nil
}

// enqueueRaw places a marshaled envelope into the queue body.
func (c *Coordinator) enqueueRaw(ctx context.Context, queue string, cfg QueueConfig, env *Envelope, raw []byte) error {
	if cfg.EnablePriority {
		score := float64(MaxPriority-env.Priority)*priorityScoreBand + float64(env.Timestamp.UnixMilli())
		if err := c.rdb.ZAdd(ctx, priorityKey(queue), redis.Z{Score: score, Member: string(raw)}).Err(); err != nil {
			return fmt.Errorf("enqueueing to priority queue %s: %w", queue, err)
		}
		return nil
	}
	if err := c.rdb.LPush(ctx, queueKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("enqueueing to queue %s: %w", queue, err)
	}
	return nil
}

// Receive returns the next eligible message, or (nil, nil) once the timeout
// passes with nothing available. Expired messages are skipped and counted.
// Delivered messages become in-flight until Acknowledge or Reject; the sweep
// re-enqueues them after the visibility timeout.
func (c *Coordinator) Receive(ctx context.Context, queue string, timeout time.Duration) (*Envelope, error) {
	cfg, err := c.queueConfig(ctx, queue)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		raw, err := c.popRaw(ctx, queue, cfg, remaining)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			return nil, nil
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Undecodable body: dead-letter it rather than poison the consumer.
			c.log.Warn("Dropping undecodable message to DLQ", "queue", queue, "error", err)
			c.rdb.LPush(ctx, queueKey(cfg.DeadLetterQueue), raw)
			c.countStat(ctx, queue, statDeadLetters)
			continue
		}

		if env.Expired(time.Now()) {
			c.countStat(ctx, queue, statExpired)
			metrics.BusExpired.WithLabelValues(queue).Inc()
			continue
		}

		if err := c.markInFlight(ctx, queue, cfg, &env, raw); err != nil {
			return nil, err
		}
		c.countStat(ctx, queue, statReceives)
		metrics.BusReceives.WithLabelValues(queue).Inc()
		return &env, nil
	}
}

// popRaw removes the next message body from the queue, blocking up to the
// timeout. Empty string means nothing arrived.
func (c *Coordinator) popRaw(ctx context.Context, queue string, cfg QueueConfig, timeout time.Duration) (string, error) {
	if cfg.EnablePriority {
		res, err := c.rdb.BZPopMin(ctx, timeout, priorityKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("receiving from priority queue %s: %w", queue, err)
		}
		member, _ := res.Member.(string)
		return member, nil
	}

	res, err := c.rdb.BRPop(ctx, timeout, queueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("receiving from queue %s: %w", queue, err)
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// markInFlight records a delivered envelope for ack/reject and the visibility
// sweep. The window between pop and this write is the accepted crash-loss
// gap; exactly-once across a crash is an explicit non-goal.
func (c *Coordinator) markInFlight(ctx context.Context, queue string, cfg QueueConfig, env *Envelope, raw string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, inflightKey(queue), env.ID, raw)
	pipe.ZAdd(ctx, deadlineKey(queue), redis.Z{
		Score:  float64(time.Now().Add(cfg.VisibilityTimeout).Unix()),
		Member: env.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("marking message in flight: %w", err)
	}
	return nil
}

// Acknowledge removes a delivered message from the in-flight set.
func (c *Coordinator) Acknowledge(ctx context.Context, queue, id string) error {
	removed, err := c.rdb.HDel(ctx, inflightKey(queue), id).Result()
	if err != nil {
		return fmt.Errorf("acknowledging message: %w", err)
	}
	c.rdb.ZRem(ctx, deadlineKey(queue), id)
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotInFlight, id)
	}
	c.countStat(ctx, queue, statAcks)
	return nil
}

// Reject removes a delivered message from the in-flight set and either
// re-enqueues it (when requeue is set and retries remain) or moves it to the
// dead-letter queue.
func (c *Coordinator) Reject(ctx context.Context, queue, id string, requeue bool) error {
	cfg, err := c.queueConfig(ctx, queue)
	if err != nil {
		return err
	}

	raw, err := c.rdb.HGet(ctx, inflightKey(queue), id).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotInFlight, id)
	}
	if err != nil {
		return fmt.Errorf("loading in-flight message: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, inflightKey(queue), id)
	pipe.ZRem(ctx, deadlineKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clearing in-flight message: %w", err)
	}
	c.countStat(ctx, queue, statRejects)

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("decoding in-flight message: %w", err)
	}

	if requeue && env.RetryCount < env.MaxRetries {
		env.RetryCount++
		return c.requeue(ctx, queue, cfg, &env)
	}
	return c.deadLetter(ctx, queue, cfg, &env)
}

// requeue puts an envelope back onto its queue, preserving priority.
func (c *Coordinator) requeue(ctx context.Context, queue string, cfg QueueConfig, env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling requeued envelope: %w", err)
	}
	return c.enqueueRaw(ctx, queue, cfg, env, raw)
}

// deadLetter moves an envelope to the queue's dead-letter companion.
func (c *Coordinator) deadLetter(ctx context.Context, queue string, cfg QueueConfig, env *Envelope) error {
	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}
	env.Metadata["dead_lettered_from"] = queue
	env.Metadata["dead_lettered_at"] = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling dead-lettered envelope: %w", err)
	}
	if err := c.rdb.LPush(ctx, queueKey(cfg.DeadLetterQueue), raw).Err(); err != nil {
		return fmt.Errorf("moving message to DLQ: %w", err)
	}
	c.countStat(ctx, queue, statDeadLetters)
	metrics.BusDeadLetters.WithLabelValues(queue).Inc()
	return nil
}

// RequeueExpired re-enqueues in-flight messages whose visibility deadline
// passed (consumer died without ack). Returns the number requeued. Messages
// out of retries go to the DLQ instead.
func (c *Coordinator) RequeueExpired(ctx context.Context, queue string) (int, error) {
	cfg, err := c.queueConfig(ctx, queue)
	if err != nil {
		return 0, err
	}

	ids, err := c.rdb.ZRangeByScore(ctx, deadlineKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scanning visibility deadlines: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		raw, err := c.rdb.HGet(ctx, inflightKey(queue), id).Result()
		if errors.Is(err, redis.Nil) {
			c.rdb.ZRem(ctx, deadlineKey(queue), id)
			continue
		}
		if err != nil {
			return requeued, fmt.Errorf("loading timed-out message: %w", err)
		}

		pipe := c.rdb.TxPipeline()
		pipe.HDel(ctx, inflightKey(queue), id)
		pipe.ZRem(ctx, deadlineKey(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, fmt.Errorf("clearing timed-out message: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if env.RetryCount >= env.MaxRetries {
			if err := c.deadLetter(ctx, queue, cfg, &env); err != nil {
				return requeued, err
			}
			continue
		}
		env.RetryCount++
		if err := c.requeue(ctx, queue, cfg, &env); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// ClearQueue removes all waiting and in-flight messages.
func (c *Coordinator) ClearQueue(ctx context.Context, queue string) error {
	if _, err := c.queueConfig(ctx, queue); err != nil {
		return err
	}
	return c.rdb.Del(ctx, queueKey(queue), priorityKey(queue), inflightKey(queue), deadlineKey(queue)).Err()
}

// DeleteQueue removes a queue, its bodies, config, stats, and registry entry.
// The dead-letter companion is left in place so undelivered failures remain
// inspectable.
func (c *Coordinator) DeleteQueue(ctx context.Context, queue string) error {
	if err := c.ClearQueue(ctx, queue); err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, configKey(queue), statsKey(queue))
	pipe.SRem(ctx, registryKey(), queue)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting queue %s: %w", queue, err)
	}

	c.mu.Lock()
	delete(c.configs, queue)
	c.mu.Unlock()
	return nil
}

// GetQueueNames returns every declared queue, dead-letter companions included.
func (c *Coordinator) GetQueueNames(ctx context.Context) ([]string, error) {
	names, err := c.rdb.SMembers(ctx, registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}
	return names, nil
}

// GetStats returns the counter snapshot and current depth for a queue.
func (c *Coordinator) GetStats(ctx context.Context, queue string) (*QueueStats, error) {
	cfg, err := c.queueConfig(ctx, queue)
	if err != nil {
		return nil, err
	}

	depth, err := c.depth(ctx, queue, cfg)
	if err != nil {
		return nil, err
	}
	inFlight, err := c.rdb.HLen(ctx, inflightKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("counting in-flight messages: %w", err)
	}

	counters, err := c.rdb.HGetAll(ctx, statsKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading queue stats: %w", err)
	}

	stats := &QueueStats{Queue: queue, Depth: depth, InFlight: inFlight}
	readCounter := func(field string) int64 {
		var n int64
		fmt.Sscan(counters[field], &n)
		return n
	}
	stats.Sends = readCounter(statSends)
	stats.Receives = readCounter(statReceives)
	stats.Acks = readCounter(statAcks)
	stats.Rejects = readCounter(statRejects)
	stats.DeadLetters = readCounter(statDeadLetters)
	stats.Expired = readCounter(statExpired)
	stats.Oversized = readCounter(statOversized)
	return stats, nil
}

// depth returns the number of waiting messages.
func (c *Coordinator) depth(ctx context.Context, queue string, cfg QueueConfig) (int64, error) {
	var (
		depth int64
		err   error
	)
	if cfg.EnablePriority {
		depth, err = c.rdb.ZCard(ctx, priorityKey(queue)).Result()
	} else {
		depth, err = c.rdb.LLen(ctx, queueKey(queue)).Result()
	}
	if err != nil {
		return 0, fmt.Errorf("measuring queue depth: %w", err)
	}
	return depth, nil
}

// countStat increments a stats counter; failures are logged, never surfaced.
func (c *Coordinator) countStat(ctx context.Context, queue, field string) {
	if err := c.rdb.HIncrBy(ctx, statsKey(queue), field, 1).Err(); err != nil {
		c.log.Warn("Failed to update queue stats", "queue", queue, "field", field, "error", err)
	}
}
