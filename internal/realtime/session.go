package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fluxbase-eu/gqlsubs/internal/graphqlexec"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrDuplicateSubscription = errors.New("subscription id already active")
	ErrSessionClosed         = errors.New("session closed")
)

// SessionState is the protocol state of a Session
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Executor resolves GraphQL requests
type Executor interface {
	Execute(ctx context.Context, req graphqlexec.Request) graphqlexec.Outcome
}

// SessionConfig tunes a Session
type SessionConfig struct {
	// OutboundBufferSize bounds messages queued for the socket writer.
	OutboundBufferSize int
	// MessagesPerSecond limits inbound control messages; zero disables.
	MessagesPerSecond float64
	MessageBurst      int
}

// activeSubscription is one running pipeline owned by a session. ctx is
// cancelled whenever the pipeline ends; stopped is set only when the client
// stopped it or the session closed, and drops its queued results.
type activeSubscription struct {
	id      json.RawMessage
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func (sub *activeSubscription) stop() {
	sub.stopped.Store(true)
	sub.cancel()
}

type outboundMessage struct {
	msg ServerMessage
	sub *activeSubscription // nil for control messages
}

// Session owns one client connection: its inbound message loop, its active
// subscriptions and the single writer to the transport.
type Session struct {
	id        string
	scope     Scope
	transport Transport
	exec      Executor
	metrics   *observability.Metrics
	limiter   *rate.Limiter
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	mu     sync.Mutex
	active map[string]*activeSubscription

	outbound chan outboundMessage
	wg       sync.WaitGroup

	closeOnce     sync.Once
	transportOnce sync.Once

	// set by Manager
	onClose  func(*Session)
	onChange func()
}

// NewSession creates a session in the Connecting state. ctx bounds the
// session's lifetime; cancelling it stops every subscription.
func NewSession(ctx context.Context, scope Scope, transport Transport, exec Executor, cfg SessionConfig) *Session {
	if cfg.OutboundBufferSize <= 0 {
		cfg.OutboundBufferSize = 100
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        scope.ConnectionID,
		scope:     scope,
		transport: transport,
		exec:      exec,
		logger:    log.With().Str("connection_id", scope.ConnectionID).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*activeSubscription),
		outbound:  make(chan outboundMessage, cfg.OutboundBufferSize),
	}
	if cfg.MessagesPerSecond > 0 {
		burst := cfg.MessageBurst
		if burst <= 0 {
			burst = int(cfg.MessagesPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)
	}
	return s
}

// ID returns the connection id
func (s *Session) ID() string {
	return s.id
}

// Scope returns the connection scope
func (s *Session) Scope() Scope {
	return s.scope
}

// State returns the current protocol state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ActiveCount returns the number of active subscriptions
func (s *Session) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// SetMetrics sets the metrics instance for recording session metrics
func (s *Session) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Open moves the session to Open and starts the writer. It fails if the
// session is not Connecting.
func (s *Session) Open() error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return ErrSessionClosed
	}

	s.wg.Add(1)
	go s.writeLoop()

	s.logger.Debug().Str("remote_addr", s.scope.RemoteAddr).Msg("Session open")
	return nil
}

// Serve runs the inbound loop until the transport fails or the session is
// closed, then closes the session.
func (s *Session) Serve() {
	defer s.Close()

	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if s.State() != StateClosed {
				s.logger.Debug().Err(err).Msg("Transport read ended")
			}
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.RecordRealtimeError("rate_limited")
			s.sendError(nil, errRateLimited)
			continue
		}

		s.HandleMessage(data)
	}
}

// HandleMessage dispatches one inbound control message. Protocol errors are
// reported to the client and never close the session.
func (s *Session) HandleMessage(data []byte) {
	if s.State() != StateOpen {
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.metrics.RecordRealtimeError("invalid_message")
		s.logger.Debug().Err(err).Msg("Invalid message format")
		s.sendError(nil, errInvalidMessageFormat)
		return
	}
	s.metrics.RecordRealtimeMessage(string(msg.Type))

	switch msg.Type {
	case MessageTypeInitialConnection:
		s.send(outboundMessage{msg: ServerMessage{Type: MessageTypeConnectionAck}})

	case MessageTypeStartSubscription, MessageTypeSubscribe:
		s.start(msg)

	case MessageTypeStopSubscription:
		s.stop(msg.ID)

	default:
		s.metrics.RecordRealtimeError("unknown_type")
		s.sendError(msg.ID, errUnknownMessageType)
	}
}

func (s *Session) start(msg ClientMessage) {
	key := subscriptionKey(msg.ID)
	if key == "" {
		s.sendError(nil, errMissingID)
		return
	}

	var payload StartPayload
	if hasPayload(msg.Payload) {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.metrics.RecordRealtimeError("invalid_message")
			s.sendError(msg.ID, errInvalidMessageFormat)
			return
		}
	}

	s.mu.Lock()
	if s.State() != StateOpen {
		s.mu.Unlock()
		return
	}
	if _, exists := s.active[key]; exists {
		s.mu.Unlock()
		s.metrics.RecordRealtimeError("duplicate_id")
		s.sendError(msg.ID, ErrDuplicateSubscription.Error())
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	ctx = WithScope(pipeline.WithRequestID(ctx, key), s.scope)
	sub := &activeSubscription{id: msg.ID, key: key, ctx: ctx, cancel: cancel}
	s.active[key] = sub
	s.wg.Add(1)
	s.mu.Unlock()
	s.updateMetrics()

	outcome := s.exec.Execute(ctx, graphqlexec.Request{
		Query:         payload.Query,
		OperationName: payload.OperationName,
		Variables:     payload.Variables,
	})

	switch o := outcome.(type) {
	case graphqlexec.Streaming:
		s.logger.Debug().Str("request_id", key).Msg("Subscription started")
		go s.forward(sub, o.Results)
	case graphqlexec.Immediate:
		s.sendResult(sub, o.Result)
		s.retire(sub)
		s.wg.Done()
	}
}

// forward relays results of one streaming subscription. The results
// channel is drained until the engine closes it, even after cancellation.
func (s *Session) forward(sub *activeSubscription, results <-chan *graphql.Result) {
	defer s.wg.Done()
	defer s.retire(sub)

	for res := range results {
		if sub.stopped.Load() {
			continue
		}
		s.sendResult(sub, res)
	}
	s.logger.Debug().Str("request_id", sub.key).Msg("Subscription finished")
}

func (s *Session) stop(id json.RawMessage) {
	key := subscriptionKey(id)

	s.mu.Lock()
	sub, ok := s.active[key]
	if ok {
		delete(s.active, key)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	sub.stop()
	s.updateMetrics()
	s.logger.Debug().Str("request_id", key).Msg("Subscription stopped")
}

// retire removes sub from the active set if it is still the entry for its
// key, and cancels it. Results already queued are still delivered.
func (s *Session) retire(sub *activeSubscription) {
	s.mu.Lock()
	if current, ok := s.active[sub.key]; ok && current == sub {
		delete(s.active, sub.key)
	}
	s.mu.Unlock()
	sub.cancel()
	s.updateMetrics()
}

func (s *Session) sendResult(sub *activeSubscription, res *graphql.Result) {
	if res == nil {
		return
	}
	s.send(outboundMessage{
		sub: sub,
		msg: ServerMessage{
			ID:   sub.id,
			Type: MessageTypeData,
			Payload: DataPayload{
				Data:   res.Data,
				Errors: graphqlexec.ErrorMessages(res),
			},
		},
	})
}

func (s *Session) sendError(id json.RawMessage, message string) {
	s.send(outboundMessage{msg: ServerMessage{
		ID:      id,
		Type:    MessageTypeError,
		Payload: ErrorPayload{Message: message},
	}})
}

// send queues a message for the writer. It blocks while the queue is full,
// which backpressures only the calling pipeline or read loop.
func (s *Session) send(out outboundMessage) {
	done := s.ctx.Done()
	if out.sub != nil {
		done = out.sub.ctx.Done()
	}
	select {
	case s.outbound <- out:
	case <-done:
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case out := <-s.outbound:
			// Results of a stopped subscription are released unsent.
			if out.sub != nil && out.sub.stopped.Load() {
				continue
			}

			data, err := json.Marshal(out.msg)
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to encode message")
				s.metrics.RecordRealtimeError("encode_failed")
				continue
			}
			if err := s.transport.WriteMessage(data); err != nil {
				s.logger.Debug().Err(err).Msg("Transport write failed")
				s.metrics.RecordRealtimeError("send_failed")
				s.closeTransport()
				return
			}
		}
	}
}

func (s *Session) closeTransport() {
	s.transportOnce.Do(func() {
		_ = s.transport.Close()
	})
}

// Close tears the session down: every active subscription is cancelled
// and detached from the bus before Close returns. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		subs := s.active
		s.active = make(map[string]*activeSubscription)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.stop()
		}
		s.cancel()
		s.closeTransport()
		s.wg.Wait()

		if s.onClose != nil {
			s.onClose(s)
		}
		s.updateMetrics()
		s.logger.Debug().Int("subscriptions", len(subs)).Msg("Session closed")
	})
}

func (s *Session) updateMetrics() {
	if s.onChange != nil {
		s.onChange()
	}
}
