// Package gorilla provides the github.com/gorilla/websocket transport for the
// session client.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/chat-session/internal/transport"
)

// closeWriteWait bounds writing the close frame when ctx has no deadline.
const closeWriteWait = time.Second

// Dialer dials with gorilla/websocket.
type Dialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to server: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewConn(conn), nil
}

// Conn adapts gorilla/websocket to transport.Conn.
type Conn struct {
	conn     *websocket.Conn
	wmu      sync.Mutex
	readDone chan struct{}
	readOnce sync.Once
}

// NewConn wraps an established websocket.Conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn, readDone: make(chan struct{})}
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) (transport.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		c.readOnce.Do(func() { close(c.readDone) })
		return transport.Frame{}, mapErr(err)
	}
	frame := transport.Frame{Type: transport.MessageBinary, Data: data}
	if typ == websocket.TextMessage {
		frame.Type = transport.MessageText
	}
	return frame, nil
}

// WriteText implements transport.Conn.
func (c *Conn) WriteText(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements transport.Conn.
// The peer's echo is observed by the goroutine blocked in Read.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(closeWriteWait)
	}
	c.wmu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.wmu.Unlock()

	if err == nil {
		select {
		case <-c.readDone:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// CloseNow implements transport.Conn.
func (c *Conn) CloseNow() error {
	return c.conn.Close()
}

func mapErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
