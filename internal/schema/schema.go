// Package schema defines the GraphQL schema served over the websocket and
// HTTP endpoints.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/fluxbase-eu/gqlsubs/internal/store"
	"github.com/graphql-go/graphql"
)

// HelloMessage is the single value of the hello subscription
const HelloMessage = "Hello World!"

// Builder builds a schema over a store. Query and mutation results are
// snapshotted through the registry so they render exactly like
// subscription results.
type Builder struct {
	store    store.Store
	registry *events.Registry
}

// New builds the schema
func New(st store.Store, registry *events.Registry) (graphql.Schema, error) {
	b := &Builder{store: st, registry: registry}
	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        b.query(),
		Mutation:     b.mutation(),
		Subscription: b.subscription(),
	})
}

func (b *Builder) query() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"base": &graphql.Field{
				Type: graphql.String,
			},
			"testModel": &graphql.Field{
				Type: testModelType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, err := idArg(p.Args)
					if err != nil {
						return nil, err
					}
					m, err := b.store.Get(p.Context, id)
					if errors.Is(err, store.ErrNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return b.snapshot(m)
				},
			},
			"testModels": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(testModelType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					models, err := b.store.List(p.Context)
					if err != nil {
						return nil, err
					}
					out := make([]interface{}, 0, len(models))
					for i := range models {
						fields, err := b.snapshot(&models[i])
						if err != nil {
							return nil, err
						}
						out = append(out, fields)
					}
					return out, nil
				},
			},
		},
	})
}

func (b *Builder) mutation() *graphql.Object {
	idArgs := graphql.FieldConfigArgument{
		"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
	}
	nameArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}

	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createTestModel": &graphql.Field{
				Type: testModelType,
				Args: graphql.FieldConfigArgument{"name": nameArg},
				Resolve: b.write(func(ctx context.Context, args map[string]interface{}) (*store.TestModel, error) {
					return b.store.Create(ctx, args["name"].(string))
				}),
			},
			"updateTestModel": &graphql.Field{
				Type: testModelType,
				Args: graphql.FieldConfigArgument{"id": idArgs["id"], "name": nameArg},
				Resolve: b.write(func(ctx context.Context, args map[string]interface{}) (*store.TestModel, error) {
					id, err := idArg(args)
					if err != nil {
						return nil, err
					}
					return b.store.Update(ctx, id, args["name"].(string))
				}),
			},
			"deleteTestModel": &graphql.Field{
				Type: testModelType,
				Args: idArgs,
				Resolve: b.write(func(ctx context.Context, args map[string]interface{}) (*store.TestModel, error) {
					id, err := idArg(args)
					if err != nil {
						return nil, err
					}
					return b.store.Delete(ctx, id)
				}),
			},
		},
	})
}

func (b *Builder) write(fn func(ctx context.Context, args map[string]interface{}) (*store.TestModel, error)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		m, err := fn(p.Context, p.Args)
		if err != nil {
			return nil, err
		}
		return b.snapshot(m)
	}
}

func (b *Builder) subscription() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"hello": &graphql.Field{
				Type: graphql.String,
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					return HelloMessage, nil
				},
				Resolve: resolveValue,
			},
			"testModelCreated": &graphql.Field{
				Type:      testModelType,
				Subscribe: recordSubscription("testModelCreated", events.OperationCreated),
				Resolve:   resolveValue,
			},
			"testModelUpdated": &graphql.Field{
				Type:      testModelType,
				Subscribe: recordSubscription("testModelUpdated", events.OperationUpdated),
				Resolve:   resolveValue,
			},
			"testModelDeleted": &graphql.Field{
				Type: testModelType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.ID},
				},
				Subscribe: recordSubscription("testModelDeleted", events.OperationDeleted),
				Resolve:   resolveValue,
			},
			"customEvent": &graphql.Field{
				Type: customEventType,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Subscribe: customSubscription("customEvent", func(ev events.Event) (interface{}, error) {
					return map[string]interface{}{
						"name":       ev.Name,
						"message":    ev.Message,
						"occurredAt": ev.OccurredAt,
					}, nil
				}),
				Resolve: resolveValue,
			},
			"testModelSubscription": &graphql.Field{
				Type:        graphql.String,
				Description: "Message of every custom event",
				Subscribe: customSubscription("testModelSubscription", func(ev events.Event) (interface{}, error) {
					return ev.Message, nil
				}),
				Resolve: resolveValue,
			},
		},
	})
}

// recordSubscription streams test model events of op. An id argument
// narrows the stream to one record; ids are compared in their string form
// so numeric and string ids match alike.
func recordSubscription(name string, op events.Operation) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		stream, err := pipeline.StreamFrom(p.Source)
		if err != nil {
			return nil, err
		}

		wantID, hasID := p.Args["id"]
		return stream.Pipe(p.Context, pipeline.Spec{
			Name: name,
			Predicate: func(ev events.Event) bool {
				if ev.Operation != op || ev.Record.Kind() != store.TestModelKind {
					return false
				}
				return !hasID || fmt.Sprint(ev.Record.ID()) == fmt.Sprint(wantID)
			},
			Transform: func(ev events.Event) (interface{}, error) {
				return ev.Record.Fields(), nil
			},
		})
	}
}

// customSubscription streams custom events, narrowed by an optional name
// argument.
func customSubscription(name string, transform pipeline.Transform) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		stream, err := pipeline.StreamFrom(p.Source)
		if err != nil {
			return nil, err
		}

		wantName, hasName := p.Args["name"].(string)
		return stream.Pipe(p.Context, pipeline.Spec{
			Name: name,
			Predicate: func(ev events.Event) bool {
				return ev.Operation == events.OperationCustom && (!hasName || ev.Name == wantName)
			},
			Transform: transform,
		})
	}
}

func resolveValue(p graphql.ResolveParams) (interface{}, error) {
	return pipeline.Unwrap(p.Source)
}

func (b *Builder) snapshot(m *store.TestModel) (map[string]interface{}, error) {
	rec, err := b.registry.Snapshot(m)
	if err != nil {
		return nil, err
	}
	return rec.Fields(), nil
}

func idArg(args map[string]interface{}) (int64, error) {
	raw := fmt.Sprint(args["id"])
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
