package api

import (
	"encoding/json"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/graphqlexec"
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/rs/zerolog/log"
)

// GraphQLResponse represents a GraphQL HTTP response body
type GraphQLResponse struct {
	Data   interface{}    `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// GraphQLError represents a GraphQL error
type GraphQLError struct {
	Message   string                 `json:"message"`
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	Path      []interface{}          `json:"path,omitempty"`
}

// GraphQLErrorLocation represents the location of a GraphQL error in the query
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// handleGraphQL handles POST requests on the GraphQL path. Only queries and
// mutations resolve here; subscriptions need the websocket.
func (s *Server) handleGraphQL(c *fiber.Ctx) error {
	startTime := time.Now()

	var req graphqlexec.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(GraphQLResponse{
			Errors: []GraphQLError{{Message: "Invalid JSON in request body"}},
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(GraphQLResponse{
			Errors: []GraphQLError{{Message: "Query string is required"}},
		})
	}

	result := s.opts.Executor.Do(c.UserContext(), req)

	log.Debug().
		Str("operation", req.OperationName).
		Int("errors", len(result.Errors)).
		Dur("duration", time.Since(startTime)).
		Msg("GraphQL query executed")

	// A result without data never reached execution: parse, validation or
	// limit failures
	status := fiber.StatusOK
	if result.Data == nil && len(result.Errors) > 0 {
		status = fiber.StatusBadRequest
	}

	return c.Status(status).JSON(GraphQLResponse{
		Data:   result.Data,
		Errors: convertErrors(result.Errors),
	})
}

// convertErrors converts graphql-go errors to our format
func convertErrors(errors []gqlerrors.FormattedError) []GraphQLError {
	if len(errors) == 0 {
		return nil
	}

	result := make([]GraphQLError, len(errors))
	for i, err := range errors {
		gqlErr := GraphQLError{
			Message: err.Message,
			Path:    err.Path,
		}
		if len(err.Locations) > 0 {
			gqlErr.Locations = make([]GraphQLErrorLocation, len(err.Locations))
			for j, loc := range err.Locations {
				gqlErr.Locations[j] = GraphQLErrorLocation{
					Line:   loc.Line,
					Column: loc.Column,
				}
			}
		}
		result[i] = gqlErr
	}
	return result
}
