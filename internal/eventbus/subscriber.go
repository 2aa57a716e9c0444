package eventbus

import (
	"context"
	"sync"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
)

// Subscriber is one consumer position on the bus. Deliveries queue in an
// unbounded mailbox so the publisher never waits on a slow consumer; the
// consumer drains it with Next.
type Subscriber struct {
	id uint64

	mu      sync.Mutex
	mailbox []events.Event
	err     error // set once detached

	signal chan struct{}
	done   chan struct{}
}

func newSubscriber(id uint64) *Subscriber {
	return &Subscriber{
		id:     id,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the bus-assigned identifier.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Next blocks until an event is available, the subscriber is detached, or
// ctx ends. Once detached, queued events are discarded and Next returns
// ErrUnsubscribed or ErrClosed.
func (s *Subscriber) Next(ctx context.Context) (events.Event, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return events.Event{}, err
		}
		if len(s.mailbox) > 0 {
			ev := s.mailbox[0]
			s.mailbox[0] = events.Event{}
			s.mailbox = s.mailbox[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-s.done:
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued, undelivered events.
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mailbox)
}

// Done is closed once the subscriber is detached.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscriber was detached, or nil.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) enqueue(ev events.Event) bool {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return false
	}
	s.mailbox = append(s.mailbox, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

// detach releases queued events and wakes any blocked Next. Only the first
// call has an effect.
func (s *Subscriber) detach(reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = reason
	s.mailbox = nil
	close(s.done)
	return true
}
