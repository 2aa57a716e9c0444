package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/rs/zerolog/log"
)

// DefaultGroup is the broadcast group every session joins
const DefaultGroup = "subscriptions"

// Manager tracks the open sessions of this process. All sessions belong to
// a single broadcast group; events reach them through the event bus.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  string

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	metrics *observability.Metrics
}

// NewManager creates a new session manager. Sessions created with
// Manager.Context are cancelled by Shutdown.
func NewManager(ctx context.Context, group string) *Manager {
	if group == "" {
		group = DefaultGroup
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
		sessions: make(map[string]*Session),
	}
}

// SetMetrics sets the metrics instance for recording realtime metrics
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Context is the parent context for sessions
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Group returns the broadcast group name
func (m *Manager) Group() string {
	return m.group
}

// Add registers s with the manager's broadcast group. The session is
// removed automatically when it closes.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	s.metrics = m.metrics
	s.onClose = m.remove
	s.onChange = m.updateMetrics
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.updateMetrics()

	log.Info().
		Str("connection_id", s.ID()).
		Str("user_id", userOrAnonymous(s.scope.UserID)).
		Str("group", m.group).
		Msg("New WebSocket connection")
	return nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if current, ok := m.sessions[s.ID()]; ok && current == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()

	m.updateMetrics()
	log.Info().Str("connection_id", s.ID()).Msg("WebSocket connection closed")
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SubscriptionCount returns the number of active subscriptions across sessions
func (m *Manager) SubscriptionCount() int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	total := 0
	for _, s := range sessions {
		total += s.ActiveCount()
	}
	return total
}

func (m *Manager) updateMetrics() {
	if m.metrics == nil {
		return
	}
	m.metrics.UpdateRealtimeStats(m.Count(), m.SubscriptionCount())
}

// SessionInfo describes one connection for the stats endpoint
type SessionInfo struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id,omitempty"`
	RemoteAddr    string `json:"remote_addr"`
	ConnectedAt   string `json:"connected_at"`
	Subscriptions int    `json:"subscriptions"`
}

// Stats is a point-in-time view of the manager
type Stats struct {
	Group         string        `json:"group"`
	Connections   int           `json:"connections"`
	Subscriptions int           `json:"subscriptions"`
	Sessions      []SessionInfo `json:"sessions"`
}

// Stats returns connection statistics, sessions ordered by connect time
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].scope.ConnectedAt.Before(sessions[j].scope.ConnectedAt)
	})

	stats := Stats{
		Group:       m.group,
		Connections: len(sessions),
		Sessions:    make([]SessionInfo, 0, len(sessions)),
	}
	for _, s := range sessions {
		active := s.ActiveCount()
		stats.Subscriptions += active
		stats.Sessions = append(stats.Sessions, SessionInfo{
			ID:            s.ID(),
			UserID:        s.scope.UserID,
			RemoteAddr:    s.scope.RemoteAddr,
			ConnectedAt:   s.scope.ConnectedAt.Format(time.RFC3339),
			Subscriptions: active,
		})
	}
	return stats
}

// Shutdown closes every session and rejects new ones
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.Close()
		log.Info().Str("connection_id", s.ID()).Msg("Closed connection during shutdown")
	}
}

func userOrAnonymous(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
