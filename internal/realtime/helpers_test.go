package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/eventbus"
	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/graphqlexec"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is an in-memory Transport. Writes block while gate is
// non-nil and unreleased.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	gate   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return errTransportClosed
		}
	}
	select {
	case <-f.closed:
		return errTransportClosed
	case f.out <- data:
		return nil
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string {
	return "pipe"
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) send(t *testing.T, v interface{}) {
	t.Helper()
	var data []byte
	switch msg := v.(type) {
	case string:
		data = []byte(msg)
	default:
		var err error
		data, err = json.Marshal(msg)
		require.NoError(t, err)
	}
	select {
	case f.in <- data:
	case <-time.After(time.Second):
		t.Fatal("timed out sending to session")
	}
}

func (f *fakeTransport) receive(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case data := <-f.out:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

func (f *fakeTransport) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("unexpected server message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

var testModelType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TestModel",
	Fields: graphql.Fields{
		"id":   &graphql.Field{Type: graphql.ID},
		"name": &graphql.Field{Type: graphql.String},
	},
})

func unwrap(p graphql.ResolveParams) (interface{}, error) {
	return pipeline.Unwrap(p.Source)
}

func recordPipe(name string, op events.Operation) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		stream, err := pipeline.StreamFrom(p.Source)
		if err != nil {
			return nil, err
		}
		return stream.Pipe(p.Context, pipeline.Spec{
			Name: name,
			Predicate: func(ev events.Event) bool {
				return ev.Operation == op && ev.Record.Kind() == "test_model"
			},
			Transform: func(ev events.Event) (interface{}, error) {
				if v, _ := ev.Record.Get("name"); v == "explode" {
					return nil, errors.New("cannot render record")
				}
				return ev.Record.Fields(), nil
			},
		})
	}
}

func newTestExecutor(t *testing.T, bus *eventbus.Bus) *graphqlexec.Executor {
	t.Helper()

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"base": &graphql.Field{
					Type:    graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) { return "base", nil },
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type:      graphql.String,
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) { return "Hello World!", nil },
					Resolve:   unwrap,
				},
				"testModelCreated": &graphql.Field{
					Type:      testModelType,
					Subscribe: recordPipe("testModelCreated", events.OperationCreated),
					Resolve:   unwrap,
				},
				"testModelDeleted": &graphql.Field{
					Type:      testModelType,
					Subscribe: recordPipe("testModelDeleted", events.OperationDeleted),
					Resolve:   unwrap,
				},
				"whoami": &graphql.Field{
					Type: graphql.String,
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						scope, ok := ScopeFromContext(p.Context)
						if !ok {
							return nil, errors.New("no scope")
						}
						return scope.ConnectionID + "/" + pipeline.RequestIDFrom(p.Context), nil
					},
					Resolve: unwrap,
				},
			},
		}),
	})
	require.NoError(t, err)

	return graphqlexec.New(schema, pipeline.NewStream(bus).Root(), graphqlexec.Limits{}, nil)
}

func testModelEvent(op events.Operation, id int, name string) events.Event {
	return events.NewRecordEvent(op, events.NewRecord("test_model", map[string]interface{}{
		"id":   id,
		"name": name,
	}))
}

func startMsg(id interface{}, query string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"type":    "start_subscription",
		"payload": map[string]interface{}{"query": query},
	}
}
