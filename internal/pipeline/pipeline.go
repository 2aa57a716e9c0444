// Package pipeline binds a subscription field to the event bus as a
// filter/transform loop whose output feeds the GraphQL engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/eventbus"
	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/rs/zerolog/log"
)

// RootKey is the root-object key under which the Stream is handed to
// subscription resolvers.
const RootKey = "stream"

var (
	ErrNoStream     = errors.New("no event stream in root value")
	ErrStreamClosed = errors.New("event stream closed")
)

// Predicate decides whether an event is relevant to a pipeline.
type Predicate func(events.Event) bool

// Transform maps a matching event to the value resolved for the field.
type Transform func(events.Event) (interface{}, error)

// Spec describes one pipeline. A nil Predicate matches every event; a nil
// Transform passes the event through unchanged.
type Spec struct {
	Name      string
	Predicate Predicate
	Transform Transform
}

// Source is the subset of the bus a pipeline needs.
type Source interface {
	Subscribe() *eventbus.Subscriber
	Unsubscribe(sub *eventbus.Subscriber)
}

// Stream is the root value for subscription resolvers.
type Stream struct {
	source Source
}

// NewStream wraps source.
func NewStream(source Source) *Stream {
	return &Stream{source: source}
}

// Root returns a root object carrying this stream.
func (s *Stream) Root() map[string]interface{} {
	return map[string]interface{}{RootKey: s}
}

// StreamFrom extracts the Stream from a resolver's source value.
func StreamFrom(source interface{}) (*Stream, error) {
	root, ok := source.(map[string]interface{})
	if !ok {
		return nil, ErrNoStream
	}
	stream, ok := root[RootKey].(*Stream)
	if !ok || stream == nil {
		return nil, ErrNoStream
	}
	return stream, nil
}

// Pipe attaches a new bus subscriber and returns the channel of results for
// the GraphQL engine. Every matching event yields one value in publish
// order: the transformed result, or an error value if the transform failed
// (the pipeline stays attached). If the bus closes, a final error wrapping
// ErrStreamClosed is sent and the channel is closed.
//
// The subscriber is detached as soon as ctx is done. The returned channel
// is closed once the pipeline goroutine exits.
func (s *Stream) Pipe(ctx context.Context, spec Spec) (chan interface{}, error) {
	sub := s.source.Subscribe()
	if err := sub.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}

	logger := log.With().
		Str("pipeline", spec.Name).
		Str("request_id", RequestIDFrom(ctx)).
		Uint64("subscriber", sub.ID()).
		Logger()

	out := make(chan interface{})
	go func() {
		defer close(out)
		defer s.source.Unsubscribe(sub)

		// Detach promptly on cancel so queued events are released even if
		// this goroutine is blocked handing a result to a slow consumer.
		stop := context.AfterFunc(ctx, func() { s.source.Unsubscribe(sub) })
		defer stop()

		logger.Debug().Msg("Pipeline attached")
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				if errors.Is(err, eventbus.ErrClosed) {
					logger.Warn().Msg("Event stream closed, retiring pipeline")
					select {
					case out <- fmt.Errorf("%w: %v", ErrStreamClosed, err):
					case <-ctx.Done():
					}
				}
				logger.Debug().Err(err).Msg("Pipeline detached")
				return
			}

			value, matched := apply(spec, ev)
			if !matched {
				continue
			}
			if err, ok := value.(error); ok {
				logger.Warn().Err(err).Uint64("seq", ev.Seq).Msg("Pipeline transform failed")
			}

			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// apply runs the predicate and transform for one event. A panic in either
// is reported as an error value for that event only.
func apply(spec Spec, ev events.Event) (value interface{}, matched bool) {
	defer func() {
		if r := recover(); r != nil {
			value = fmt.Errorf("pipeline %q: panic handling event %d: %v", spec.Name, ev.Seq, r)
			matched = true
		}
	}()

	if spec.Predicate != nil && !spec.Predicate(ev) {
		return nil, false
	}
	if spec.Transform == nil {
		return ev, true
	}
	result, err := spec.Transform(ev)
	if err != nil {
		return err, true
	}
	return result, true
}

// Unwrap turns a per-event value produced by Pipe back into a resolver
// result: error values become resolver errors.
func Unwrap(source interface{}) (interface{}, error) {
	if err, ok := source.(error); ok {
		return nil, err
	}
	return source, nil
}
