package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// MaxNotifyPayload is the PostgreSQL NOTIFY payload limit
const MaxNotifyPayload = 8000

// PostgresPubSub implements PubSub using PostgreSQL LISTEN/NOTIFY, so a
// multi-process deployment needs no infrastructure beyond its database.
//
// Messages are not persisted and payloads are limited to MaxNotifyPayload
// bytes.
type PostgresPubSub struct {
	pool        *pgxpool.Pool
	channels    []string
	subscribers map[string][]*pgSubscription
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

type pgSubscription struct {
	ch  chan Message
	ctx context.Context
}

// NewPostgresPubSub creates a pub/sub listening on channels once started.
func NewPostgresPubSub(pool *pgxpool.Pool, channels ...string) *PostgresPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresPubSub{
		pool:        pool,
		channels:    channels,
		subscribers: make(map[string][]*pgSubscription),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins listening for notifications. It is idempotent.
func (p *PostgresPubSub) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.listenLoop()

	log.Info().Strs("channels", p.channels).Msg("PostgreSQL pub/sub started")
	return nil
}

func (p *PostgresPubSub) listenLoop() {
	defer p.wg.Done()

	for p.ctx.Err() == nil {
		conn, err := p.pool.Acquire(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Failed to acquire connection for pub/sub LISTEN")
			p.pause()
			continue
		}

		for _, ch := range p.channels {
			if _, err := conn.Exec(p.ctx, "LISTEN "+pgx.Identifier{sanitizeChannelName(ch)}.Sanitize()); err != nil {
				log.Error().Err(err).Str("channel", ch).Msg("Failed to LISTEN on channel")
			}
		}

		for {
			notification, err := conn.Conn().WaitForNotification(p.ctx)
			if err != nil {
				if p.ctx.Err() == nil {
					log.Error().Err(err).Msg("Error waiting for pub/sub notification, reconnecting")
				}
				break
			}

			p.deliver(Message{
				Channel: unsanitizeChannelName(notification.Channel),
				Payload: []byte(notification.Payload),
			})
		}

		conn.Release()
		p.pause()
	}
}

func (p *PostgresPubSub) pause() {
	select {
	case <-time.After(time.Second):
	case <-p.ctx.Done():
	}
}

// deliver holds the read lock while sending so unsubscribe cannot close a
// channel mid-send; each send gives up once its subscriber is cancelled.
func (p *PostgresPubSub) deliver(msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscribers[msg.Channel] {
		select {
		case sub.ch <- msg:
		case <-sub.ctx.Done():
		case <-p.ctx.Done():
			return
		}
	}
}

// Publish sends a message to all subscribers of a channel.
func (p *PostgresPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > MaxNotifyPayload {
		return fmt.Errorf("payload too large for PostgreSQL NOTIFY: %d bytes (max %d)", len(payload), MaxNotifyPayload)
	}

	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", sanitizeChannelName(channel), string(payload)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives messages published to channel.
// Only channels passed to NewPostgresPubSub are listened on.
func (p *PostgresPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if !p.listensOn(channel) {
		return nil, fmt.Errorf("channel %q is not configured for PostgreSQL pub/sub", channel)
	}

	sub := &pgSubscription{ch: make(chan Message, 100), ctx: ctx}

	p.mu.Lock()
	p.subscribers[channel] = append(p.subscribers[channel], sub)
	p.mu.Unlock()

	if err := p.Start(); err != nil {
		p.unsubscribe(channel, sub)
		return nil, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-ctx.Done():
		case <-p.ctx.Done():
		}
		p.unsubscribe(channel, sub)
	}()

	return sub.ch, nil
}

func (p *PostgresPubSub) listensOn(channel string) bool {
	for _, ch := range p.channels {
		if ch == channel {
			return true
		}
	}
	return false
}

func (p *PostgresPubSub) unsubscribe(channel string, sub *pgSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[channel]
	for i, s := range subs {
		if s == sub {
			p.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(p.subscribers[channel]) == 0 {
		delete(p.subscribers, channel)
	}
}

// Close stops listening and closes all subscriptions.
func (p *PostgresPubSub) Close() error {
	p.cancel()
	p.wg.Wait()

	log.Info().Msg("PostgreSQL pub/sub closed")
	return nil
}

// sanitizeChannelName maps colons, which PostgreSQL identifiers cannot
// carry unquoted, to double underscores
func sanitizeChannelName(channel string) string {
	return strings.ReplaceAll(channel, ":", "__")
}

func unsanitizeChannelName(pgChannel string) string {
	return strings.ReplaceAll(pgChannel, "__", ":")
}
