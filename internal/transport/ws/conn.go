// Package ws provides the nhooyr.io/websocket transport for the session client.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/omochice/chat-session/internal/transport"
	"nhooyr.io/websocket"
)

// Dialer dials with nhooyr.io/websocket.
type Dialer struct {
	// HTTPHeader is sent with the opening handshake.
	HTTPHeader http.Header
	// ReadLimit caps the size of an inbound message. Zero keeps the library default.
	ReadLimit int64
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: d.HTTPHeader})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return NewConn(conn), nil
}

// Conn adapts nhooyr.io/websocket to transport.Conn.
type Conn struct {
	conn *websocket.Conn
}

// NewConn wraps an established websocket.Conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) (transport.Frame, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return transport.Frame{}, mapErr(err)
	}
	frame := transport.Frame{Type: transport.MessageBinary, Data: data}
	if typ == websocket.MessageText {
		frame.Type = transport.MessageText
	}
	return frame, nil
}

// WriteText implements transport.Conn.
func (c *Conn) WriteText(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements transport.Conn.
// The library bounds its own handshake; ctx cuts it shorter.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.conn.Close(websocket.StatusCode(code), reason)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.conn.CloseNow()
		return ctx.Err()
	}
}

// CloseNow implements transport.Conn.
func (c *Conn) CloseNow() error {
	return c.conn.CloseNow()
}

func mapErr(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}
