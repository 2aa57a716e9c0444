// Package pubsub carries events between processes so that every connection
// in the broadcast group sees every signal, whichever process raised it.
package pubsub

import (
	"context"
)

// Message represents a pub/sub message
type Message struct {
	// Channel is the channel the message was published to
	Channel string `json:"channel"`

	// Payload is the encoded event
	Payload []byte `json:"payload"`
}

// PubSub is the interface for pub/sub backends.
// Implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of a channel, including
	// subscribers in the publishing process.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel that receives messages published to the given channel.
	// The returned channel is closed when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	// Close releases all resources and closes all subscriptions.
	Close() error
}

// DefaultChannel is the broadcast group every process joins
const DefaultChannel = "subscriptions"
