// Package signals turns persistence write notifications into events.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/rs/zerolog/log"
)

// Adapter converts write notifications into events and publishes them.
// Every write produces at most one publish. Failures are logged, counted and
// returned to the caller; they never reach the bus or other subscribers.
type Adapter struct {
	registry  *events.Registry
	publisher events.Publisher
	metrics   *observability.Metrics
}

// NewAdapter creates an adapter publishing to publisher
func NewAdapter(registry *events.Registry, publisher events.Publisher) *Adapter {
	return &Adapter{
		registry:  registry,
		publisher: publisher,
	}
}

// SetMetrics sets the metrics instance for recording signal failures
func (a *Adapter) SetMetrics(m *observability.Metrics) {
	a.metrics = m
}

// PostSave handles a committed insert (created) or update.
func (a *Adapter) PostSave(ctx context.Context, record interface{}, created bool) error {
	op := events.OperationUpdated
	if created {
		op = events.OperationCreated
	}
	return a.notify(ctx, op, record)
}

// PostDelete handles a committed delete.
func (a *Adapter) PostDelete(ctx context.Context, record interface{}) error {
	return a.notify(ctx, events.OperationDeleted, record)
}

func (a *Adapter) notify(ctx context.Context, op events.Operation, record interface{}) error {
	rec, err := a.registry.Snapshot(record)
	if err != nil {
		a.metrics.RecordSignalError("unknown_record_type")
		log.Error().Err(err).Str("operation", string(op)).Msg("Dropping write notification")
		return err
	}
	return a.NotifyRecord(ctx, op, rec)
}

// NotifyRaw handles a notification whose record arrives as JSON, as from a
// database trigger.
func (a *Adapter) NotifyRaw(ctx context.Context, op events.Operation, kind string, raw json.RawMessage) error {
	rec, err := a.registry.DecodeRecord(kind, raw)
	if err != nil {
		reason := "invalid_record"
		if errors.Is(err, events.ErrUnknownRecordType) {
			reason = "unknown_record_type"
		}
		a.metrics.RecordSignalError(reason)
		log.Error().Err(err).Str("operation", string(op)).Str("kind", kind).Msg("Dropping write notification")
		return err
	}
	return a.NotifyRecord(ctx, op, rec)
}

// NotifyRecord publishes an already snapshotted record.
func (a *Adapter) NotifyRecord(ctx context.Context, op events.Operation, rec events.Record) error {
	if !op.Valid() || op == events.OperationCustom {
		a.metrics.RecordSignalError("invalid_operation")
		return fmt.Errorf("%w: operation %q for record", events.ErrInvalidEnvelope, op)
	}
	return a.publish(ctx, events.NewRecordEvent(op, rec))
}

// Custom publishes a custom_event with a free-form message.
func (a *Adapter) Custom(ctx context.Context, name, message string) error {
	return a.publish(ctx, events.NewCustomEvent(name, message))
}

func (a *Adapter) publish(ctx context.Context, ev events.Event) error {
	if err := a.publisher.Publish(ctx, ev); err != nil {
		a.metrics.RecordSignalError("publish_failed")
		log.Error().
			Err(err).
			Str("operation", string(ev.Operation)).
			Str("kind", ev.Record.Kind()).
			Msg("Failed to publish event")
		return fmt.Errorf("failed to publish %s event: %w", ev.Operation, err)
	}
	return nil
}
