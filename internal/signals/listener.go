package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DefaultNotifyChannel is the channel the change trigger notifies on
const DefaultNotifyChannel = "gqlsubs_changes"

// ChangeNotification is the payload sent by the change trigger
type ChangeNotification struct {
	Type   string          `json:"type"` // INSERT, UPDATE, DELETE
	Table  string          `json:"table"`
	Schema string          `json:"schema"`
	Record json.RawMessage `json:"record"`
}

// Listener feeds PostgreSQL LISTEN/NOTIFY change notifications into an
// Adapter. Each process listens independently and publishes to its own bus.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	adapter *Adapter
	tables  map[string]string // table -> record kind
}

// NewListener creates a listener for channel. tables maps table names to
// registered record kinds; notifications for other tables are ignored.
func NewListener(pool *pgxpool.Pool, channel string, adapter *Adapter, tables map[string]string) *Listener {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &Listener{
		pool:    pool,
		channel: channel,
		adapter: adapter,
		tables:  tables,
	}
}

// Run listens until ctx is cancelled
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to LISTEN on %s: %w", l.channel, err)
	}
	log.Info().Str("channel", l.channel).Msg("PostgreSQL change listener started")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("channel", l.channel).Msg("Stopping PostgreSQL change listener")
				return nil
			}
			return fmt.Errorf("error waiting for notification: %w", err)
		}

		// Failures are logged and counted by the adapter.
		_ = l.HandlePayload(ctx, notification.Payload)
	}
}

// acquire retries with exponential backoff: 1s, 2s, 4s, 8s
func (l *Listener) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	const maxRetries = 5
	baseDelay := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := l.pool.Acquire(acquireCtx)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Msg("Failed to acquire connection for LISTEN, retrying...")

		if attempt < maxRetries {
			select {
			case <-time.After(baseDelay * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("failed to acquire connection for LISTEN: %w", lastErr)
}

var errIgnoredTable = errors.New("table not mapped to a record kind")

// HandlePayload converts one notification payload and hands it to the adapter
func (l *Listener) HandlePayload(ctx context.Context, payload string) error {
	var change ChangeNotification
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		l.adapter.metrics.RecordSignalError("invalid_notification")
		log.Error().Err(err).Str("payload", payload).Msg("Failed to parse notification")
		return fmt.Errorf("%w: %v", events.ErrInvalidEnvelope, err)
	}

	op, ok := operationFor(change.Type)
	if !ok {
		l.adapter.metrics.RecordSignalError("invalid_operation")
		log.Error().Str("type", change.Type).Msg("Unknown change type in notification")
		return fmt.Errorf("%w: change type %q", events.ErrInvalidEnvelope, change.Type)
	}

	kind, ok := l.tables[change.Table]
	if !ok {
		log.Debug().Str("table", change.Table).Msg("Ignoring change for unmapped table")
		return errIgnoredTable
	}

	return l.adapter.NotifyRaw(ctx, op, kind, change.Record)
}

func operationFor(changeType string) (events.Operation, bool) {
	switch strings.ToUpper(changeType) {
	case "INSERT":
		return events.OperationCreated, true
	case "UPDATE":
		return events.OperationUpdated, true
	case "DELETE":
		return events.OperationDeleted, true
	}
	return "", false
}
