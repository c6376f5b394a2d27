// Package gobwas provides the github.com/gobwas/ws transport for the session
// client. It works on the raw net.Conn returned by the handshake.
package gobwas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/chat-session/internal/transport"
)

const closeWriteWait = time.Second

// Dialer dials with gobwas/ws.
type Dialer struct {
	Dialer ws.Dialer
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	var r io.Reader = conn
	if br != nil {
		// The server may have sent frames along with the handshake response.
		r = br
	}
	return NewConn(conn, r), nil
}

// Conn adapts a gobwas/ws client connection to transport.Conn.
type Conn struct {
	conn     net.Conn
	rw       io.ReadWriter
	wmu      sync.Mutex
	readDone chan struct{}
	readOnce sync.Once
}

// NewConn wraps a connection that already completed the client handshake.
// r is the reader frames are read from, usually conn itself.
func NewConn(conn net.Conn, r io.Reader) *Conn {
	c := &Conn{conn: conn, readDone: make(chan struct{})}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	return c
}

// lockedWriter serializes control frame replies from the reader with data writes.
type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

// Read implements transport.Conn.
// Pings and close frames are answered by wsutil while reading.
func (c *Conn) Read(ctx context.Context) (transport.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, op, err := wsutil.ReadServerData(c.rw)
	if err != nil {
		c.readOnce.Do(func() { close(c.readDone) })
		return transport.Frame{}, mapErr(err)
	}
	frame := transport.Frame{Type: transport.MessageBinary, Data: data}
	if op == ws.OpText {
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
	return wsutil.WriteClientText(c.conn, data)
}

// Close implements transport.Conn.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(closeWriteWait)
	}
	body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)

	c.wmu.Lock()
	err := c.conn.SetWriteDeadline(deadline)
	if err == nil {
		err = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
	}
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
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}
