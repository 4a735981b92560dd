package bus

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors surfaced by coordinator operations.
var (
	ErrInvalidQueueName   = errors.New("invalid queue name")
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueFull          = errors.New("queue full")
	ErrOversizedMessage   = errors.New("message exceeds size limit and cannot be truncated further")
	ErrPriorityNotEnabled = errors.New("priority not enabled for queue")
	ErrNotInFlight        = errors.New("message not in flight")
)

// QueueConfig enumerates the per-queue settings. Zero values are replaced by
// the documented defaults at queue creation.
type QueueConfig struct {
	MaxMessageSizeBytes int           `json:"maxMessageSizeBytes" yaml:"max_message_size_bytes"`
	MaxQueueSize        int           `json:"maxQueueSize" yaml:"max_queue_size"`
	DefaultExpiration   time.Duration `json:"defaultExpiration" yaml:"default_expiration"`
	EnablePersistence   bool          `json:"enablePersistence" yaml:"enable_persistence"`
	EnablePriority      bool          `json:"enablePriority" yaml:"enable_priority"`
	MaxRetries          int           `json:"maxRetries" yaml:"max_retries"`
	DeadLetterQueue     string        `json:"deadLetterQueue" yaml:"dead_letter_queue"`

	// VisibilityTimeout bounds how long a delivered message may stay
	// unacknowledged before the sweep re-enqueues it.
	VisibilityTimeout time.Duration `json:"visibilityTimeout" yaml:"visibility_timeout"`
}

// DefaultQueueConfig returns the built-in per-queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxMessageSizeBytes: 2048,
		MaxQueueSize:        10000,
		DefaultExpiration:   time.Hour,
		EnablePersistence:   true,
		EnablePriority:      false,
		MaxRetries:          3,
		VisibilityTimeout:   5 * time.Minute,
	}
}

// withDefaults fills zero-valued fields and composes the dead-letter name.
func (c QueueConfig) withDefaults(queue string) QueueConfig {
	def := DefaultQueueConfig()
	if c.MaxMessageSizeBytes <= 0 {
		c.MaxMessageSizeBytes = def.MaxMessageSizeBytes
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.DefaultExpiration <= 0 {
		c.DefaultExpiration = def.DefaultExpiration
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = def.VisibilityTimeout
	}
	if c.DeadLetterQueue == "" {
		c.DeadLetterQueue = dlqName(queue)
	}
	return c
}

// Envelope is the queue wire format. Data holds the caller's payload as
// canonical JSON.
type Envelope struct {
	ID         string            `json:"id"`
	Data       json.RawMessage   `json:"data"`
	Timestamp  time.Time         `json:"timestamp"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Priority   int               `json:"priority"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
	QueueName  string            `json:"queueName"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the envelope's TTL has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	return json.Unmarshal(e.Data, out)
}

// SendResult reports the outcome of a successful send.
type SendResult struct {
	ID               string `json:"id"`
	SizeBytes        int    `json:"sizeBytes"`
	Truncated        bool   `json:"truncated"`
	OriginalSizeInfo string `json:"originalSizeInfo,omitempty"`
}

// QueueStats is the counter snapshot for one queue.
type QueueStats struct {
	Queue       string `json:"queue"`
	Depth       int64  `json:"depth"`
	InFlight    int64  `json:"inFlight"`
	Sends       int64  `json:"sends"`
	Receives    int64  `json:"receives"`
	Acks        int64  `json:"acks"`
	Rejects     int64  `json:"rejects"`
	DeadLetters int64  `json:"deadLetters"`
	Expired     int64  `json:"expired"`
	Oversized   int64  `json:"oversized"`
}

// Stats hash field names.
const (
	statSends       = "sends"
	statReceives    = "receives"
	statAcks        = "acks"
	statRejects     = "rejects"
	statDeadLetters = "dead_letters"
	statExpired     = "expired"
	statOversized   = "oversized"
)
