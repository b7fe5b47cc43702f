package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultEventChannel = "codeclash:events"

// Envelope carries a user-addressed event between instances. Payload is the
// already-encoded event body.
type Envelope struct {
	UserIDs   []string        `json:"userIds"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventBus fans events out to every instance over Redis pub/sub. Each
// instance delivers to the sockets it holds and ignores the rest.
type EventBus struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	channel    string

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewEventBus(client *redis.Client, channel string, logger *zap.Logger) *EventBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &EventBus{
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		channel:    channel,
		stopChan:   make(chan struct{}),
	}
}

func (b *EventBus) InstanceID() string {
	return b.instanceID
}

// Publish encodes payload and sends it to all subscribers, including this
// instance.
func (b *EventBus) Publish(ctx context.Context, userIDs []string, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	data, err := json.Marshal(Envelope{
		UserIDs:   userIDs,
		Type:      eventType,
		Payload:   body,
		Origin:    b.instanceID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Published event",
		zap.String("type", eventType),
		zap.Strings("users", userIDs))

	return nil
}

// Subscribe delivers every envelope to handler until ctx is done or Stop is
// called. The subscription is confirmed before Subscribe starts looping so
// ready is closed only once messages can no longer be missed.
func (b *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	b.logger.Info("Event bus subscribed",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error("Failed to unmarshal envelope", zap.Error(err))
				continue
			}
			handler(env)

		case <-b.stopChan:
			b.logger.Info("Event bus stopped")
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
}
