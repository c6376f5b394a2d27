// Package transport abstracts the WebSocket libraries the session client can
// dial with. Adapters live in the subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// MessageType is the kind of a data frame.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

// String returns the string representation of MessageType
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "TEXT"
	case MessageBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Frame is one data message read from the peer.
type Frame struct {
	Type MessageType
	Data []byte
}

// Conn is a client-side WebSocket connection.
// Read is called from a single goroutine; WriteText and Close may run
// concurrently with it.
type Conn interface {
	// Read blocks until the next data frame arrives. A close frame from the
	// peer is returned as *CloseError.
	Read(ctx context.Context) (Frame, error)

	// WriteText sends a single UTF-8 text frame.
	WriteText(ctx context.Context, data []byte) error

	// Close performs the closing handshake and releases the connection.
	// It returns once the peer acknowledged or ctx is done.
	Close(ctx context.Context, code int, reason string) error

	// CloseNow drops the connection without a handshake.
	CloseNow() error
}

// Dialer opens a Conn to a ws:// or wss:// endpoint.
// ctx bounds the opening handshake only.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed by peer: status %d", e.Code)
	}
	return fmt.Sprintf("connection closed by peer: status %d: %s", e.Code, e.Reason)
}

// AsCloseError extracts a *CloseError from err's chain.
func AsCloseError(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
