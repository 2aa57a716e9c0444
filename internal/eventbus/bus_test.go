package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func custom(msg string) events.Event {
	return events.NewCustomEvent("test", msg)
}

func next(t *testing.T, sub *Subscriber) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), custom("hello")))

	ev := next(t, sub)
	assert.Equal(t, "hello", ev.Message)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, 0, sub.Pending())
}

func TestBus_NoReplay(t *testing.T) {
	bus := New()
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), custom("before")))
	sub := bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), custom("after")))

	assert.Equal(t, "after", next(t, sub).Message)
	assert.Equal(t, 0, sub.Pending())
}

func TestBus_EverySubscriberExactlyOnceInOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	subs := []*Subscriber{bus.Subscribe(), bus.Subscribe(), bus.Subscribe()}
	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, bus.Publish(context.Background(), custom("m")))
	}

	for i, sub := range subs {
		require.Equal(t, total, sub.Pending(), "subscriber %d", i)
		for want := uint64(1); want <= total; want++ {
			assert.Equal(t, want, next(t, sub).Seq, "subscriber %d", i)
		}
		assert.Equal(t, 0, sub.Pending())
	}
}

func TestBus_ConcurrentPublishersKeepPerSubscriberOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	a, b := bus.Subscribe(), bus.Subscribe()

	const publishers, each = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = bus.Publish(context.Background(), custom("m"))
			}
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < publishers*each; i++ {
		ea, eb := next(t, a), next(t, b)
		assert.Greater(t, ea.Seq, last)
		assert.Equal(t, ea.Seq, eb.Seq, "both subscribers see the same order")
		last = ea.Seq
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	assert.Equal(t, 1, bus.Len())

	assert.NotPanics(t, func() {
		bus.Unsubscribe(sub)
		bus.Unsubscribe(sub)
		bus.Unsubscribe(nil)
	})
	assert.Equal(t, 0, bus.Len())
	assert.ErrorIs(t, sub.Err(), ErrUnsubscribed)

	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestBus_UnsubscribeDropsQueuedAndFutureEvents(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), custom("queued")))
	require.Equal(t, 1, sub.Pending())

	bus.Unsubscribe(sub)
	require.NoError(t, bus.Publish(context.Background(), custom("later")))

	assert.Equal(t, 0, sub.Pending())
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrUnsubscribed)
}

func TestBus_UnsubscribeWakesBlockedNext(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Unsubscribe(sub)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrUnsubscribed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Unsubscribe")
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = bus.Publish(context.Background(), custom("m"))
			}
		}
	}()

	for i := 0; i < 100; i++ {
		sub := bus.Subscribe()
		bus.Unsubscribe(sub)
		assert.Equal(t, 0, sub.Pending())
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 0, bus.Len())
}

func TestBus_NextHonoursContext(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub := bus.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, bus.Len(), "a cancelled Next does not detach")
}

func TestBus_Close(t *testing.T) {
	bus := New()

	sub := bus.Subscribe()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, bus.Publish(context.Background(), custom("x")), ErrClosed)

	late := bus.Subscribe()
	assert.ErrorIs(t, late.Err(), ErrClosed)
	assert.Equal(t, 0, bus.Len())
}

func TestBus_Metrics(t *testing.T) {
	m := observability.NewMetrics()
	bus := New()
	bus.SetMetrics(m)
	defer bus.Close()

	sub := bus.Subscribe()
	_ = bus.Subscribe()
	require.NoError(t, bus.Publish(context.Background(), events.NewRecordEvent(events.OperationCreated,
		events.NewRecord("widget", map[string]interface{}{"id": 1}))))
	bus.Unsubscribe(sub)

	count, err := testutil.GatherAndCount(m.Registry(), "gqlsubs_events_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, bus.Len())
}
