package client

import (
	"log/slog"
	"time"

	"github.com/omochice/chat-session/internal/transport"
)

// Option defines a functional configuration type for the Client.
type Option func(*Client)

// WithDialer selects the transport. Defaults to nhooyr.io/websocket.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the structured logger. Defaults to discarding records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRetryPolicy configures reconnection.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.settings.retry = p
	}
}

// WithChatID sets the chat identifier used by SendText and by messages
// submitted without one.
func WithChatID(id any) Option {
	return func(c *Client) {
		c.settings.chatID = id
	}
}

// WithHandshakeTimeout bounds each dial attempt.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.settings.handshakeTimeout = d
	}
}

// WithWriteTimeout bounds writing out the pending queue, however many
// frames it holds.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.settings.writeTimeout = d
	}
}

// WithCloseTimeout bounds the closing handshake. When it elapses the
// connection is dropped and the session reaches Closed anyway.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.settings.closeTimeout = d
	}
}

type settings struct {
	retry            RetryPolicy
	chatID           any
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	closeTimeout     time.Duration
}

func defaultSettings() settings {
	return settings{
		retry:            DefaultRetryPolicy(),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     5 * time.Second,
		closeTimeout:     5 * time.Second,
	}
}
