package events

import "context"

// Publisher accepts events for fan-out. The in-memory bus and the
// cross-process broadcast group both implement it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls f(ctx, event).
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
