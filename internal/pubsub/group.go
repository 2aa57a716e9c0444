package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/rs/zerolog/log"
)

// Group is the broadcast group shared by every process. Publishing encodes
// the event onto the group channel; Run relays every event on the channel,
// including this process's own, into the local bus. A distributed
// deployment publishes only through the Group so each event reaches each
// local bus exactly once.
type Group struct {
	ps       PubSub
	channel  string
	registry *events.Registry
	local    events.Publisher
	metrics  *observability.Metrics
}

// NewGroup creates a relay between ps and the local publisher
func NewGroup(ps PubSub, channel string, registry *events.Registry, local events.Publisher) *Group {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Group{
		ps:       ps,
		channel:  channel,
		registry: registry,
		local:    local,
	}
}

// SetMetrics sets the metrics instance for broadcast counters
func (g *Group) SetMetrics(m *observability.Metrics) {
	g.metrics = m
}

// Name returns the group channel
func (g *Group) Name() string {
	return g.channel
}

// Publish broadcasts an event to every process in the group.
func (g *Group) Publish(ctx context.Context, ev events.Event) error {
	payload, err := g.registry.Encode(ev)
	if err != nil {
		g.metrics.RecordBroadcast("out", err)
		return err
	}

	err = g.ps.Publish(ctx, g.channel, payload)
	g.metrics.RecordBroadcast("out", err)
	if err != nil {
		return fmt.Errorf("failed to broadcast to group %s: %w", g.channel, err)
	}
	return nil
}

// Run joins the group and relays events to the local publisher until ctx
// is cancelled or the subscription ends. Payloads that fail to decode are
// logged and dropped.
func (g *Group) Run(ctx context.Context) error {
	msgs, err := g.ps.Subscribe(ctx, g.channel)
	if err != nil {
		return fmt.Errorf("failed to join group %s: %w", g.channel, err)
	}

	log.Info().Str("group", g.channel).Msg("Joined broadcast group")

	for msg := range msgs {
		if err := g.relay(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Error().Err(err).Str("group", g.channel).Msg("Dropping broadcast message")
		}
	}

	log.Info().Str("group", g.channel).Msg("Left broadcast group")
	return nil
}

func (g *Group) relay(ctx context.Context, msg Message) error {
	ev, err := g.registry.Decode(msg.Payload)
	if err == nil {
		err = g.local.Publish(ctx, ev)
	}
	g.metrics.RecordBroadcast("in", err)
	return err
}
