package schema

import (
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// DateTimeScalar represents a date and time in RFC3339 format
var DateTimeScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "DateTime",
	Description: "DateTime scalar type represents a date and time in RFC3339 format",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano)
		case *time.Time:
			if v == nil {
				return nil
			}
			return v.UTC().Format(time.RFC3339Nano)
		case string:
			return v
		default:
			return nil
		}
	},
	ParseValue: func(value interface{}) interface{} {
		if v, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		}
		return nil
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if v, ok := valueAST.(*ast.StringValue); ok {
			if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
				return t
			}
		}
		return nil
	},
})

// testModelType resolves fields from record snapshots
var testModelType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TestModel",
	Fields: graphql.Fields{
		"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: field("id")},
		"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String), Resolve: field("name")},
		"createdAt": &graphql.Field{
			Type:    DateTimeScalar,
			Resolve: field("created_at"),
		},
	},
})

var customEventType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CustomEvent",
	Fields: graphql.Fields{
		"name":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"message":    &graphql.Field{Type: graphql.String},
		"occurredAt": &graphql.Field{Type: DateTimeScalar},
	},
})

func field(key string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if fields, ok := p.Source.(map[string]interface{}); ok {
			return fields[key], nil
		}
		return nil, nil
	}
}
