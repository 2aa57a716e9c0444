// Package eventbus is the process-wide broadcast point between event
// producers and subscription pipelines.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsubscribed = errors.New("subscriber detached from bus")
	ErrClosed       = errors.New("event bus closed")
)

// Bus fans every published event out to all attached subscribers.
//
// Publishes are serialised so each subscriber observes events in publish
// order. Delivery appends to the subscriber's mailbox and never blocks.
type Bus struct {
	publishMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	seq         uint64
	closed      bool

	metrics *observability.Metrics
}

// New creates an empty bus. Create one per process at startup and inject it.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscriber),
	}
}

// SetMetrics sets the metrics instance for recording bus metrics
func (b *Bus) SetMetrics(m *observability.Metrics) {
	b.metrics = m
}

// Publish delivers event to every subscriber attached at call time, stamping
// it with the next sequence number. ctx is accepted for interface symmetry
// with remote publishers; local delivery does not block.
func (b *Bus) Publish(ctx context.Context, event events.Event) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	event.Seq = b.seq
	snapshot := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if sub.enqueue(event) {
			delivered++
		}
	}

	b.metrics.RecordEventPublished(string(event.Operation))
	log.Debug().
		Uint64("seq", event.Seq).
		Str("operation", string(event.Operation)).
		Str("kind", event.Record.Kind()).
		Int("subscribers", delivered).
		Msg("Event published")

	return nil
}

// Subscribe attaches a new consumer that will see every event published
// after this call returns. On a closed bus the subscriber is returned
// already detached with ErrClosed.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := newSubscriber(b.nextID)
	if b.closed {
		sub.detach(ErrClosed)
		return sub
	}
	b.subscribers[sub.id] = sub
	b.metrics.SetBusSubscribers(len(b.subscribers))
	return sub
}

// Unsubscribe detaches sub. Calling it more than once, or with nil, is a no-op.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if existing, ok := b.subscribers[sub.id]; ok && existing == sub {
		delete(b.subscribers, sub.id)
		b.metrics.SetBusSubscribers(len(b.subscribers))
	}
	b.mu.Unlock()

	sub.detach(ErrUnsubscribed)
}

// Len returns the number of attached subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close detaches every subscriber with ErrClosed and rejects further
// publishes. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[uint64]*Subscriber)
	b.metrics.SetBusSubscribers(0)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.detach(ErrClosed)
	}
	log.Debug().Int("subscribers", len(subs)).Msg("Event bus closed")
	return nil
}
