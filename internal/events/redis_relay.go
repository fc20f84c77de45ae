package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel events are relayed to.
const DefaultRedisChannel = "podracer:events"

// RedisRelay forwards domain events to a Redis pub/sub channel as JSON.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisRelay builds a relay. A nil client disables publishing.
func NewRedisRelay(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Register subscribes the relay to every event type.
func (r *RedisRelay) Register(d Dispatcher) {
	if d == nil || r.client == nil {
		return
	}
	for _, t := range AllEventTypes {
		d.Subscribe(t, r.Handle)
	}
}

// Handle publishes a single event. Failures are logged and returned.
func (r *RedisRelay) Handle(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("relay event to redis",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return err
	}
	return nil
}
