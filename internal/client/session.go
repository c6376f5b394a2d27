package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

type event any

type (
	connectEvent struct{}
	dialResult   struct {
		gen  uint64
		conn transport.Conn
		err  error
	}
	retryEvent struct{ gen uint64 }
	frameEvent struct {
		frame transport.Frame
		at    time.Time
	}
	readFailed struct {
		gen uint64
		err error
	}
	sendEvent    struct{ out outbound }
	closeRequest struct{ info protocol.CloseInfo }
	closeDone    struct {
		gen uint64
		err error
	}
	closeExpired struct{ gen uint64 }
)

// outbound is a validated message with its encoded frame.
type outbound struct {
	msg  protocol.Message
	data []byte
}

// SessionInfo is a point-in-time view of a Session.
type SessionInfo struct {
	ID       uuid.UUID
	Endpoint string
	State    State
	Attempt  int
	Close    *protocol.CloseInfo
}

// Session is one logical connection to a chat endpoint, from Idle to Closed.
// All transitions, I/O completions, timers and handler calls are serialized
// on the session's event loop goroutine.
type Session struct {
	id     uuid.UUID
	cfg    settings
	dialer transport.Dialer
	logger *slog.Logger
	notify *notifier

	events    *eventQueue
	done      chan struct{}
	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu             sync.Mutex
	endpoint       string
	state          State
	attempt        int
	closeInfo      *protocol.CloseInfo
	closeRequested bool

	// Owned by the event loop.
	conn        transport.Conn
	gen         uint64
	pending     []outbound
	delays      *delays
	timer       *time.Timer
	dialCancel  context.CancelFunc
	closeCancel context.CancelFunc
	closing     protocol.CloseInfo
}

func newSession(cfg settings, dialer transport.Dialer, logger *slog.Logger, n *notifier) *Session {
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("session_id", id.String()),
		notify: n,
		events: newEventQueue(),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		delays: cfg.retry.delays(),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:       s.id,
		Endpoint: s.endpoint,
		State:    s.state,
		Attempt:  s.attempt,
		Close:    s.closeInfo,
	}
}

// Done is closed once the session reached Closed and its loop exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) start() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *Session) connect(endpoint string) error {
	s.mu.Lock()
	if s.state != StateIdle || s.closeRequested {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.endpoint = endpoint
	s.state = StateConnecting
	s.attempt = 1
	s.mu.Unlock()

	s.start()
	s.events.push(connectEvent{})
	return nil
}

func (s *Session) submit(out outbound) error {
	switch s.State() {
	case StateIdle, StateClosed:
		return ErrNotConnected
	}
	if !s.events.push(sendEvent{out: out}) {
		return ErrNotConnected
	}
	return nil
}

func (s *Session) requestClose(info protocol.CloseInfo) {
	s.mu.Lock()
	if s.closeRequested || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.closeRequested = true
	s.mu.Unlock()

	s.start()
	s.events.push(closeRequest{info: info})
}

func (s *Session) run() {
	defer close(s.done)
	for s.State() != StateClosed {
		s.handle(s.events.pop())
	}
	// Sends that raced the final transition.
	for _, ev := range s.events.close() {
		if send, ok := ev.(sendEvent); ok {
			s.fail(send.out, ErrSessionClosed)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		s.onConnect()
	case dialResult:
		s.onDialResult(ev)
	case retryEvent:
		s.onRetry(ev)
	case frameEvent:
		s.onFrame(ev)
	case readFailed:
		s.onReadFailed(ev)
	case sendEvent:
		s.onSend(ev)
	case closeRequest:
		s.onCloseRequest(ev)
	case closeDone:
		s.onCloseDone(ev)
	case closeExpired:
		s.onCloseExpired(ev)
	}
}

func (s *Session) onConnect() {
	s.logger.Info("connecting", "endpoint", s.endpoint)
	s.notify.states.emit(StateChange{From: StateIdle, To: StateConnecting, Attempt: 1})
	s.dial()
}

func (s *Session) dial() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.handshakeTimeout)
	s.dialCancel = cancel
	endpoint := s.endpoint

	go func() {
		defer cancel()
		conn, err := s.dialer.Dial(ctx, endpoint)
		if !s.events.push(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.CloseNow()
		}
	}()
}

func (s *Session) onDialResult(ev dialResult) {
	if ev.gen != s.gen || s.State() != StateConnecting {
		if ev.conn != nil {
			_ = ev.conn.CloseNow()
		}
		return
	}
	s.dialCancel = nil
	if ev.err != nil {
		s.logger.Warn("dial failed", "attempt", s.Info().Attempt, "error", ev.err)
		s.retry(ev.err)
		return
	}

	s.conn = ev.conn
	s.delays.reset()
	s.transition(StateChange{To: StateOpen})
	s.logger.Info("connected", "endpoint", s.endpoint)

	go s.readLoop(s.gen, ev.conn)
	s.flush()
}

// retry schedules the next dial, or gives up once the attempt budget is spent.
func (s *Session) retry(cause error) {
	attempt := s.Info().Attempt
	if attempt >= s.cfg.retry.MaxAttempts {
		err := fmt.Errorf("%w: giving up after %d attempts: %v", ErrTransportFailure, attempt, cause)
		s.finish(protocol.CloseInfo{Code: protocol.CloseAbnormal, Reason: "transport failure: " + cause.Error()}, err)
		return
	}

	s.gen++
	gen := s.gen
	delay := s.delays.next()
	s.transition(StateChange{To: StateConnecting, Attempt: attempt + 1})
	s.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)
	s.timer = time.AfterFunc(delay, func() {
		s.events.push(retryEvent{gen: gen})
	})
}

func (s *Session) onRetry(ev retryEvent) {
	if ev.gen != s.gen || s.State() != StateConnecting {
		return
	}
	s.timer = nil
	s.dial()
}

func (s *Session) readLoop(gen uint64, conn transport.Conn) {
	for {
		frame, err := conn.Read(s.ctx)
		if err != nil {
			s.events.push(readFailed{gen: gen, err: err})
			return
		}
		if !s.events.push(frameEvent{frame: frame, at: time.Now()}) {
			return
		}
	}
}

// onFrame delivers frames even if their connection has since been replaced,
// so nothing that was received is lost across a reconnect.
func (s *Session) onFrame(ev frameEvent) {
	if ev.frame.Type != transport.MessageText || !utf8.Valid(ev.frame.Data) {
		err := &MalformedPayloadError{Type: ev.frame.Type, Data: ev.frame.Data}
		s.logger.Warn("malformed inbound frame", "error", err)
		s.notify.errors.emit(err)
		return
	}
	s.notify.messages.emit(protocol.Inbound(string(ev.frame.Data), ev.at))
}

func (s *Session) onReadFailed(ev readFailed) {
	if ev.gen != s.gen || s.State() != StateOpen {
		return
	}
	if ce, ok := transport.AsCloseError(ev.err); ok && !protocol.Transient(ce.Code) {
		s.logger.Info("closed by peer", "code", ce.Code, "reason", ce.Reason)
		s.finish(protocol.CloseInfo{Code: ce.Code, Reason: ce.Reason}, ev.err)
		return
	}
	s.logger.Warn("connection lost", "error", ev.err)
	s.connLost(ev.err)
}

// connLost drops the transport and starts a fresh attempt budget.
func (s *Session) connLost(cause error) {
	_ = s.conn.CloseNow()
	s.conn = nil
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
	s.retry(cause)
}

func (s *Session) onSend(ev sendEvent) {
	switch s.State() {
	case StateOpen:
		s.pending = append(s.pending, ev.out)
		s.flush()
	case StateConnecting, StateClosing:
		s.pending = append(s.pending, ev.out)
	default:
		s.fail(ev.out, ErrNotConnected)
	}
}

// flush writes pending messages in insertion order, all within one
// WriteTimeout so a slow peer cannot hold the loop for longer. A failed
// write keeps the message at the head of the queue for the next connection.
func (s *Session) flush() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.writeTimeout)
	defer cancel()
	for len(s.pending) > 0 && s.State() == StateOpen {
		out := s.pending[0]
		err := s.conn.WriteText(ctx, out.data)
		if err != nil {
			s.logger.Warn("write failed", "pending", len(s.pending), "error", err)
			s.connLost(fmt.Errorf("failed to send message: %w", err))
			return
		}
		s.pending[0] = outbound{}
		s.pending = s.pending[1:]
	}
}

func (s *Session) onCloseRequest(ev closeRequest) {
	switch s.State() {
	case StateIdle, StateConnecting:
		s.finish(ev.info, nil)
	case StateOpen:
		s.startClosing(ev.info)
	}
}

func (s *Session) startClosing(info protocol.CloseInfo) {
	s.closing = info
	s.transition(StateChange{To: StateClosing})
	s.logger.Info("closing", "code", info.Code, "reason", info.Reason)

	gen := s.gen
	conn := s.conn
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.closeTimeout)
	s.closeCancel = cancel
	go func() {
		err := conn.Close(ctx, info.Code, info.Reason)
		s.events.push(closeDone{gen: gen, err: err})
	}()
	s.timer = time.AfterFunc(s.cfg.closeTimeout, func() {
		s.events.push(closeExpired{gen: gen})
	})
}

func (s *Session) onCloseDone(ev closeDone) {
	if ev.gen != s.gen || s.State() != StateClosing {
		return
	}
	if errors.Is(ev.err, context.DeadlineExceeded) {
		s.closeTimedOut()
		return
	}
	if ev.err != nil {
		s.logger.Debug("close handshake", "error", ev.err)
	}
	s.conn = nil
	s.finish(s.closing, nil)
}

func (s *Session) onCloseExpired(ev closeExpired) {
	if ev.gen != s.gen || s.State() != StateClosing {
		return
	}
	s.closeTimedOut()
}

func (s *Session) closeTimedOut() {
	s.logger.Warn("close handshake timed out", "timeout", s.cfg.closeTimeout)
	s.notify.errors.emit(ErrCloseTimeout)
	s.finish(s.closing, ErrCloseTimeout)
}

// finish releases every resource and enters the terminal state.
// Undelivered messages are reported before the Closed notification.
func (s *Session) finish(info protocol.CloseInfo, err error) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.closeCancel != nil {
		s.closeCancel()
		s.closeCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.CloseNow()
		s.conn = nil
	}
	s.gen++
	s.cancel()

	cause := ErrSessionClosed
	if errors.Is(err, ErrTransportFailure) {
		cause = err
	}
	for _, out := range s.pending {
		s.fail(out, cause)
	}
	s.pending = nil

	s.transition(StateChange{To: StateClosed, Close: &info, Err: err})
	s.logger.Info("closed", "code", info.Code, "reason", info.Reason)
}

func (s *Session) fail(out outbound, cause error) {
	s.notify.errors.emit(&SendError{Message: out.msg, Err: cause})
}

func (s *Session) transition(change StateChange) {
	s.mu.Lock()
	change.From = s.state
	s.state = change.To
	if change.To == StateConnecting {
		s.attempt = change.Attempt
	}
	if change.Close != nil {
		s.closeInfo = change.Close
	}
	s.mu.Unlock()

	s.notify.states.emit(change)
}
