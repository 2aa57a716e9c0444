package realtime

import (
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	localsUserID = "realtime_user_id"
	localsRole   = "realtime_role"
)

// TokenValidator validates connection tokens (allows mocking in tests)
type TokenValidator interface {
	ValidateToken(token string) (*TokenClaims, error)
}

// TokenClaims is what a session needs to know about an authenticated client
type TokenClaims struct {
	UserID string
	Role   string
}

// HandlerConfig configures the websocket endpoint
type HandlerConfig struct {
	Subprotocol      string
	MessageSizeLimit int64
	MaxConnections   int
	RequireToken     bool
	Session          SessionConfig
}

// Handler upgrades HTTP requests to websocket sessions
type Handler struct {
	manager   *Manager
	exec      Executor
	validator TokenValidator
	cfg       HandlerConfig
}

// NewHandler creates a new websocket handler. validator may be nil, in
// which case every connection is anonymous.
func NewHandler(manager *Manager, exec Executor, validator TokenValidator, cfg HandlerConfig) *Handler {
	return &Handler{
		manager:   manager,
		exec:      exec,
		validator: validator,
		cfg:       cfg,
	}
}

// HandleWebSocket authenticates and upgrades the request
func (h *Handler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	if h.cfg.MaxConnections > 0 && h.manager.Count() >= h.cfg.MaxConnections {
		h.manager.metrics.RecordRealtimeError("max_connections")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Too many connections",
		})
	}

	token := extractToken(c)
	switch {
	case token != "" && h.validator != nil:
		claims, err := h.validator.ValidateToken(token)
		if err != nil {
			log.Debug().Err(err).Msg("Invalid WebSocket token")
			h.manager.metrics.RecordRealtimeError("auth_failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		c.Locals(localsUserID, claims.UserID)
		c.Locals(localsRole, claims.Role)
	case h.cfg.RequireToken:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication token required",
		})
	}

	var subprotocols []string
	if h.cfg.Subprotocol != "" {
		subprotocols = []string{h.cfg.Subprotocol}
	}
	return websocket.New(h.handleConnection, websocket.Config{
		Subprotocols: subprotocols,
	})(c)
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	if h.cfg.MessageSizeLimit > 0 {
		conn.SetReadLimit(h.cfg.MessageSizeLimit)
	}

	transport := newWSTransport(conn)
	scope := Scope{
		ConnectionID: uuid.New().String(),
		RemoteAddr:   transport.RemoteAddr(),
		ConnectedAt:  time.Now().UTC(),
	}
	if uid, ok := conn.Locals(localsUserID).(string); ok {
		scope.UserID = uid
	}
	if role, ok := conn.Locals(localsRole).(string); ok {
		scope.Role = role
	}

	session := NewSession(h.manager.Context(), scope, transport, h.exec, h.cfg.Session)
	if err := h.manager.Add(session); err != nil {
		log.Debug().Err(err).Msg("Rejecting connection during shutdown")
		session.Close()
		return
	}
	if err := session.Open(); err != nil {
		session.Close()
		return
	}

	session.Serve()
}

// HandleStats returns GET /api/v1/realtime/stats
func (h *Handler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(h.manager.Stats())
}

// extractToken reads the token from ?token= or an Authorization bearer header
func extractToken(c *fiber.Ctx) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
