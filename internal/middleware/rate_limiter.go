package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	Store      ratelimit.Store         // Counter backend, shared across replicas unless in memory
	Max        int                     // Maximum number of requests
	Expiration time.Duration           // Time window for the rate limit
	KeyFunc    func(*fiber.Ctx) string // Function to generate the key for rate limiting
	Message    string                  // Custom error message
}

// NewRateLimiter creates a fixed-window rate limiter middleware. A failing
// store lets the request through.
func NewRateLimiter(config RateLimiterConfig) fiber.Handler {
	if config.KeyFunc == nil {
		config.KeyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}

	if config.Message == "" {
		config.Message = fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.",
			config.Max, config.Expiration.String())
	}

	limit := int64(config.Max)

	return func(c *fiber.Ctx) error {
		key := config.KeyFunc(c)
		result, err := ratelimit.Check(c.UserContext(), config.Store, key, limit, config.Expiration)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			retryAfter := int(config.Expiration.Seconds())
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     config.Message,
				"retry_after": retryAfter,
			})
		}

		return c.Next()
	}
}

// EventPublishLimiter limits custom event publishing per IP
func EventPublishLimiter(store ratelimit.Store, max int) fiber.Handler {
	return NewRateLimiter(RateLimiterConfig{
		Store:      store,
		Max:        max,
		Expiration: time.Minute,
		KeyFunc: func(c *fiber.Ctx) string {
			return "events:" + c.IP()
		},
		Message: fmt.Sprintf("Too many events published. Maximum %d per minute.", max),
	})
}
