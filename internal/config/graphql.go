package config

import "fmt"

// GraphQLConfig contains GraphQL execution settings
type GraphQLConfig struct {
	MaxDepth      int  `mapstructure:"max_depth" yaml:"max_depth"`           // Maximum query depth, 0 = unlimited
	MaxComplexity int  `mapstructure:"max_complexity" yaml:"max_complexity"` // Maximum query complexity score, 0 = unlimited
	Introspection bool `mapstructure:"introspection" yaml:"introspection"`   // Allow __schema and __type queries
	HTTPEnabled   bool `mapstructure:"http_enabled" yaml:"http_enabled"`     // Serve queries and mutations over POST
}

// Validate validates GraphQL configuration
func (gc *GraphQLConfig) Validate() error {
	if gc.MaxDepth < 0 {
		return fmt.Errorf("graphql max_depth cannot be negative, got: %d", gc.MaxDepth)
	}

	if gc.MaxComplexity < 0 {
		return fmt.Errorf("graphql max_complexity cannot be negative, got: %d", gc.MaxComplexity)
	}

	return nil
}
