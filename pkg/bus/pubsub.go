package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publish broadcasts a payload on a named channel. Channels fan out to every
// current subscriber and retain nothing: items published while nobody is
// subscribed are lost.
func (c *Coordinator) Publish(ctx context.Context, channel string, payload any) error {
	if err := ValidateQueueName(channel); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling channel payload: %w", err)
	}
	env := Envelope{
		ID:        uuid.New().String(),
		Data:      data,
		Timestamp: time.Now(),
		QueueName: channel,
	}
	raw, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshaling channel envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, channelKey(channel), raw).Err(); err != nil {
		return fmt.Errorf("publishing to channel %s: %w", channel, err)
	}
	return nil
}

// Subscription is a live channel subscription. Items delivers envelopes until
// Close is called or the subscribing context ends.
type Subscription struct {
	pubsub *redis.PubSub
	items  chan *Envelope
	done   chan struct{}
}

// Items returns the lazy sequence of delivered envelopes. The channel closes
// when the subscription ends.
func (s *Subscription) Items() <-chan *Envelope {
	return s.items
}

// Close terminates the subscription and releases the underlying connection.
func (s *Subscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe opens a subscription on a named channel. Undecodable frames are
// dropped; the subscription survives them.
func (c *Coordinator) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if err := ValidateQueueName(channel); err != nil {
		return nil, err
	}

	pubsub := c.rdb.Subscribe(ctx, channelKey(channel))
	// Force the SUBSCRIBE round trip so a broken connection fails here, not
	// silently in the pump goroutine.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to channel %s: %w", channel, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		items:  make(chan *Envelope, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.items)
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.log.Warn("Dropping undecodable channel frame", "channel", channel, "error", err)
				continue
			}
			select {
			case sub.items <- &env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
