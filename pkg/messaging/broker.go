package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels used to fan out queue and notification events to live observers.
const (
	ChannelQueueUpdates  = "queue_updates"
	ChannelNotifications = "notifications"
)
