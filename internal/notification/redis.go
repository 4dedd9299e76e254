package notification

import (
	"context"
	"fmt"

	"chartcore/internal/model"
)

// EventPublisher is satisfied by the circuit-breaking Redis publisher.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.AlertEvent) error
}

// RedisNotifier publishes events on a Redis pub/sub channel.
type RedisNotifier struct {
	pub EventPublisher
}

// NewRedisNotifier wraps pub.
func NewRedisNotifier(pub EventPublisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (r *RedisNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	if err := r.pub.Publish(ctx, ev); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}
