package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/eventbus"
	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recordEvent(op events.Operation, id int64) events.Event {
	return events.NewRecordEvent(op, events.NewRecord("widget", map[string]interface{}{"id": id}))
}

func opIs(op events.Operation) Predicate {
	return func(ev events.Event) bool { return ev.Operation == op }
}

func receive(t *testing.T, ch <-chan interface{}) interface{} {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "pipeline closed unexpectedly")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pipeline result")
		return nil
	}
}

func assertQuiet(t *testing.T, ch <-chan interface{}) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected pipeline result: %v", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, ch <-chan interface{}) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("pipeline channel not closed")
		}
	}
}

func TestPipe_FilterCorrectness(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := stream.Pipe(ctx, Spec{Name: "created", Predicate: opIs(events.OperationCreated)})
	require.NoError(t, err)
	deleted, err := stream.Pipe(ctx, Spec{Name: "deleted", Predicate: opIs(events.OperationDeleted)})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationCreated, 1)))
	require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationDeleted, 1)))

	ev := receive(t, created).(events.Event)
	assert.Equal(t, events.OperationCreated, ev.Operation)
	assertQuiet(t, created)

	ev = receive(t, deleted).(events.Event)
	assert.Equal(t, events.OperationDeleted, ev.Operation)
	assertQuiet(t, deleted)

	cancel()
	waitClosed(t, created)
	waitClosed(t, deleted)
}

func TestPipe_DiscriminatesByID(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := stream.Pipe(ctx, Spec{
		Name: "deleted-a",
		Predicate: func(ev events.Event) bool {
			return ev.Operation == events.OperationDeleted && fmt.Sprint(ev.Record.ID()) == "1"
		},
		Transform: func(ev events.Event) (interface{}, error) { return ev.Record.Fields(), nil },
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationDeleted, 2)))
	require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationDeleted, 1)))

	got := receive(t, out).(map[string]interface{})
	assert.Equal(t, int64(1), got["id"])
	assertQuiet(t, out)

	cancel()
	waitClosed(t, out)
}

func TestPipe_PreservesPublishOrder(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := stream.Pipe(ctx, Spec{
		Name:      "seq",
		Transform: func(ev events.Event) (interface{}, error) { return ev.Seq, nil },
	})
	require.NoError(t, err)

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationUpdated, i)))
	}
	for want := uint64(1); want <= 50; want++ {
		assert.Equal(t, want, receive(t, out))
	}

	cancel()
	waitClosed(t, out)
}

func TestPipe_TransformErrorKeepsPipelineAlive(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	out, err := stream.Pipe(ctx, Spec{
		Name: "flaky",
		Transform: func(ev events.Event) (interface{}, error) {
			switch ev.Record.ID() {
			case int64(1):
				return nil, boom
			case int64(2):
				panic("resolver exploded")
			}
			return ev.Record.ID(), nil
		},
	})
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, bus.Publish(ctx, recordEvent(events.OperationCreated, i)))
	}

	first := receive(t, out)
	assert.ErrorIs(t, first.(error), boom)

	second := receive(t, out)
	require.Implements(t, (*error)(nil), second)
	assert.Contains(t, second.(error).Error(), "resolver exploded")

	assert.Equal(t, int64(3), receive(t, out))

	cancel()
	waitClosed(t, out)
}

func TestPipe_CancelDetachesFromBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := stream.Pipe(ctx, Spec{Name: "stop"})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Len())

	// Leave a result undelivered so the goroutine is blocked on send.
	require.NoError(t, bus.Publish(context.Background(), recordEvent(events.OperationCreated, 1)))
	require.NoError(t, bus.Publish(context.Background(), recordEvent(events.OperationCreated, 2)))
	time.Sleep(10 * time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return bus.Len() == 0 }, time.Second, 5*time.Millisecond)
	waitClosed(t, out)
}

func TestPipe_BusClosedSendsTerminalError(t *testing.T) {
	bus := eventbus.New()
	stream := NewStream(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := stream.Pipe(ctx, Spec{Name: "terminal"})
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	v := receive(t, out)
	require.Implements(t, (*error)(nil), v)
	assert.ErrorIs(t, v.(error), ErrStreamClosed)
	waitClosed(t, out)

	_, err = stream.Pipe(ctx, Spec{Name: "late"})
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamFrom(t *testing.T) {
	stream := NewStream(eventbus.New())

	got, err := StreamFrom(stream.Root())
	require.NoError(t, err)
	assert.Same(t, stream, got)

	_, err = StreamFrom(nil)
	assert.ErrorIs(t, err, ErrNoStream)

	_, err = StreamFrom(map[string]interface{}{"other": 1})
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestUnwrap(t *testing.T) {
	v, err := Unwrap("value")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = Unwrap(assert.AnError)
	assert.Nil(t, v)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestIDFrom(context.Background()))
	assert.Equal(t, "7", RequestIDFrom(WithRequestID(context.Background(), "7")))
}
