// Package client implements the chat session client: one logical WebSocket
// connection to a chat endpoint with queued sends, reconnection with
// backoff, and observer-based event delivery.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/internal/transport/ws"
	"github.com/omochice/chat-session/pkg/protocol"
)

// notifier fans events out to the handlers registered on a Client.
// Registrations outlive individual sessions.
type notifier struct {
	messages observers[protocol.Message]
	states   observers[StateChange]
	errors   observers[error]
}

// Client represents a WebSocket chat session client.
type Client struct {
	dialer   transport.Dialer
	logger   *slog.Logger
	settings settings
	notify   notifier

	mu      sync.Mutex
	session *Session
}

// New creates a Client with an Idle session.
func New(opts ...Option) (*Client, error) {
	c := &Client{settings: defaultSettings()}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &ws.Dialer{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := c.settings.retry.Validate(); err != nil {
		return nil, err
	}
	if c.settings.handshakeTimeout <= 0 || c.settings.writeTimeout <= 0 || c.settings.closeTimeout <= 0 {
		return nil, errors.New("timeouts must be positive")
	}
	c.session = c.newSession()
	return c, nil
}

func (c *Client) newSession() *Session {
	return newSession(c.settings, c.dialer, c.logger, &c.notify)
}

func (c *Client) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect starts connecting to endpoint. Completion is observed through
// state changes. After Closed, Connect starts a fresh session.
func (c *Client) Connect(endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State() == StateClosed {
		c.session = c.newSession()
	}
	return c.session.connect(endpoint)
}

// Send submits msg for delivery without blocking. A nil ChatID is filled
// with the configured chat id.
func (c *Client) Send(msg protocol.Message) error {
	if msg.ChatID == nil {
		msg.ChatID = c.settings.chatID
	}
	msg.Direction = protocol.DirectionOutbound
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.current().submit(outbound{msg: msg, data: data})
}

// SendText sends {chat_id: <configured chat id>, message: text}.
func (c *Client) SendText(text string) error {
	return c.Send(protocol.Text(c.settings.chatID, text))
}

// Close starts a graceful shutdown with the given close code and reason.
// Closing an already closing or closed session is a no-op.
func (c *Client) Close(code int, reason string) error {
	if err := protocol.ValidateClose(code, reason); err != nil {
		return err
	}
	c.current().requestClose(protocol.CloseInfo{Code: code, Reason: reason})
	return nil
}

// OnMessage registers a handler for inbound messages, called in arrival
// order on the event loop. The returned func deregisters it.
func (c *Client) OnMessage(fn func(protocol.Message)) (remove func()) {
	return c.notify.messages.add(fn)
}

// OnStateChange registers a handler for every state transition.
func (c *Client) OnStateChange(fn func(StateChange)) (remove func()) {
	return c.notify.states.add(fn)
}

// OnError registers a handler for non-fatal errors: malformed inbound
// frames, undelivered messages and close timeouts.
func (c *Client) OnError(fn func(error)) (remove func()) {
	return c.notify.errors.add(fn)
}

// State returns the current session's state.
func (c *Client) State() State {
	return c.current().State()
}

// Session returns a snapshot of the current session.
func (c *Client) Session() SessionInfo {
	return c.current().Info()
}

// Done is closed when the current session reaches Closed.
func (c *Client) Done() <-chan struct{} {
	return c.current().Done()
}

// CloseInfo returns how the current session ended. ok is false until Closed.
func (c *Client) CloseInfo() (info protocol.CloseInfo, ok bool) {
	ci := c.current().Info().Close
	if ci == nil {
		return protocol.CloseInfo{}, false
	}
	return *ci, true
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss: %q", ErrInvalidEndpoint, endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host: %q", ErrInvalidEndpoint, endpoint)
	}
	return nil
}
