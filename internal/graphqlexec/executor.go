// Package graphqlexec is the boundary to the GraphQL engine. It decides once,
// at execution time, whether a request resolves immediately or streams.
package graphqlexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/rs/zerolog/log"
)

var ErrSubscriptionOverHTTP = errors.New("subscriptions are only available over websocket")

// Request is a GraphQL operation as sent by a client
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Outcome is either Immediate or Streaming.
type Outcome interface {
	outcome()
}

// Immediate is a finite result: a query, a mutation, or a request that
// failed before execution.
type Immediate struct {
	Result *graphql.Result
}

// Streaming carries results for a subscription. The channel is closed when
// the subscription ends; it must be drained until then.
type Streaming struct {
	Results <-chan *graphql.Result
}

func (Immediate) outcome() {}
func (Streaming) outcome() {}

// Limits bound what a single request may ask for. Zero disables a check.
type Limits struct {
	MaxDepth      int
	MaxComplexity int
	Introspection bool
}

// Executor runs requests against one schema.
type Executor struct {
	schema graphql.Schema
	root   map[string]interface{}
	limits Limits
	tracer *observability.Tracer
}

// New creates an executor. root is handed to every operation as its root
// value.
func New(schema graphql.Schema, root map[string]interface{}, limits Limits, tracer *observability.Tracer) *Executor {
	return &Executor{
		schema: schema,
		root:   root,
		limits: limits,
		tracer: tracer,
	}
}

// Execute resolves req. Subscription operations yield Streaming, everything
// else Immediate. ctx bounds the lifetime of a streaming subscription.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	op, failed := e.prepare(req)
	if failed != nil {
		return Immediate{Result: failed}
	}

	if op != nil && op.Operation == ast.OperationTypeSubscription {
		_, span := e.tracer.StartGraphQLSpan(ctx, op.Operation, req.OperationName)
		results := graphql.Subscribe(graphql.Params{
			Schema:         e.schema,
			RequestString:  req.Query,
			RootObject:     e.root,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})
		observability.EndSpan(span, nil)
		return Streaming{Results: results}
	}

	return Immediate{Result: e.do(ctx, op, req)}
}

// Do resolves a finite operation and rejects subscriptions.
func (e *Executor) Do(ctx context.Context, req Request) *graphql.Result {
	op, failed := e.prepare(req)
	if failed != nil {
		return failed
	}
	if op != nil && op.Operation == ast.OperationTypeSubscription {
		return errorResult(ErrSubscriptionOverHTTP)
	}
	return e.do(ctx, op, req)
}

func (e *Executor) do(ctx context.Context, op *ast.OperationDefinition, req Request) *graphql.Result {
	opType := "unknown"
	if op != nil {
		opType = op.Operation
	}

	start := time.Now()
	ctx, span := e.tracer.StartGraphQLSpan(ctx, opType, req.OperationName)
	result := graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		RootObject:     e.root,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})

	var spanErr error
	if result.HasErrors() {
		spanErr = errors.New(result.Errors[0].Message)
	}
	observability.EndSpan(span, spanErr)

	log.Debug().
		Str("operation_type", opType).
		Str("operation", req.OperationName).
		Int("errors", len(result.Errors)).
		Dur("duration", time.Since(start)).
		Msg("GraphQL operation executed")

	return result
}

// prepare parses the request and enforces limits. It returns the selected
// operation (nil when the engine must report the ambiguity itself) or a
// failed result.
func (e *Executor) prepare(req Request) (*ast.OperationDefinition, *graphql.Result) {
	if req.Query == "" {
		return nil, errorResult(errors.New("query string is required"))
	}

	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return nil, &graphql.Result{Errors: gqlerrors.FormatErrors(err)}
	}

	op := selectOperation(doc, req.OperationName)
	if op == nil {
		return nil, nil
	}

	if !e.limits.Introspection && selectsIntrospection(op) {
		return nil, errorResult(errors.New("introspection is disabled"))
	}
	if e.limits.MaxDepth > 0 {
		if depth := queryDepth(op); depth > e.limits.MaxDepth {
			return nil, errorResult(fmt.Errorf("query depth %d exceeds maximum allowed depth of %d", depth, e.limits.MaxDepth))
		}
	}
	if e.limits.MaxComplexity > 0 {
		if complexity := queryComplexity(op); complexity > e.limits.MaxComplexity {
			return nil, errorResult(fmt.Errorf("query complexity %d exceeds maximum of %d", complexity, e.limits.MaxComplexity))
		}
	}

	return op, nil
}

func selectOperation(doc *ast.Document, name string) *ast.OperationDefinition {
	var found *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if name == "" {
			if found != nil {
				return nil
			}
			found = op
			continue
		}
		if op.Name != nil && op.Name.Value == name {
			return op
		}
	}
	return found
}

func errorResult(err error) *graphql.Result {
	return &graphql.Result{Errors: gqlerrors.FormatErrors(err)}
}

// ErrorMessages flattens a result's errors to their messages, or nil.
func ErrorMessages(result *graphql.Result) []string {
	if result == nil || len(result.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		msgs[i] = err.Message
	}
	return msgs
}
