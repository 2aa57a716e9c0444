package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// PublishEventRequest is the body of POST /api/v1/events
type PublishEventRequest struct {
	Name    string `json:"name,omitempty"`
	Payload string `json:"payload"`
}

// handlePublishEvent injects a custom_event into the stream
func (s *Server) handlePublishEvent(c *fiber.Ctx) error {
	var req PublishEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Payload == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "payload is required",
		})
	}

	if err := s.opts.Events.Custom(c.UserContext(), req.Name, req.Payload); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("Failed to publish custom event")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to publish event",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "published",
		"name":   req.Name,
	})
}
