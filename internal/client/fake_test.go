package client_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/transport"
)

const waitTimeout = 2 * time.Second

var errRefused = errors.New("connection refused")

// fakeConn is a scripted transport.Conn.
type fakeConn struct {
	inbound  chan transport.Frame
	dead     chan struct{}
	deadOnce sync.Once
	deadErr  error
	ackClose bool

	// writeDelay makes every write take this long unless ctx ends first.
	writeDelay time.Duration

	mu          sync.Mutex
	written     [][]byte
	writeErr    error
	closeCode   int
	closeReason string
}

func newFakeConn(ackClose bool) *fakeConn {
	return &fakeConn{
		inbound:  make(chan transport.Frame, 16),
		dead:     make(chan struct{}),
		ackClose: ackClose,
	}
}

func (c *fakeConn) Read(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.dead:
		return transport.Frame{}, c.deadErr
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteText(ctx context.Context, data []byte) error {
	if c.writeDelay > 0 {
		select {
		case <-time.After(c.writeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	c.written = append(c.written, copied)
	return nil
}

// Close acknowledges immediately when ackClose is set. Otherwise it hangs,
// ignoring ctx, until CloseNow, like a peer that never answers.
func (c *fakeConn) Close(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	c.closeCode, c.closeReason = code, reason
	c.mu.Unlock()
	if c.ackClose {
		c.kill(&transport.CloseError{Code: code, Reason: reason})
		return nil
	}
	<-c.dead
	return nil
}

func (c *fakeConn) CloseNow() error {
	c.kill(net.ErrClosed)
	return nil
}

func (c *fakeConn) kill(err error) {
	c.deadOnce.Do(func() {
		c.deadErr = err
		close(c.dead)
	})
}

// drop simulates the peer going away with err.
func (c *fakeConn) drop(err error) { c.kill(err) }

func (c *fakeConn) isDead() bool {
	select {
	case <-c.dead:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) closedWith() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *fakeConn) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		frames := c.frames()
		if len(frames) >= n {
			return frames
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames, want %d", len(frames), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeDialer fails the first `failures` dials, or all of them when
// alwaysFail is set. With a gate, dials wait for it to be closed.
type fakeDialer struct {
	failures   int
	alwaysFail bool
	gate       chan struct{}
	ackClose   bool
	writeDelay time.Duration
	conns      chan *fakeConn

	mu    sync.Mutex
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{ackClose: true, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.alwaysFail || n <= d.failures {
		return nil, errRefused
	}
	c := newFakeConn(d.ackClose)
	c.writeDelay = d.writeDelay
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// recorder captures state changes and errors in order.
type recorder struct {
	mu      sync.Mutex
	changes []client.StateChange
	errs    []error
	ch      chan client.StateChange
}

func record(c *client.Client) *recorder {
	r := &recorder{ch: make(chan client.StateChange, 256)}
	c.OnStateChange(func(sc client.StateChange) {
		r.mu.Lock()
		r.changes = append(r.changes, sc)
		r.mu.Unlock()
		r.ch <- sc
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	})
	return r
}

func (r *recorder) waitFor(t *testing.T, to client.State) client.StateChange {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case sc := <-r.ch:
			if sc.To == to {
				return sc
			}
		case <-timeout:
			t.Fatalf("timeout waiting for state %v", to)
			return client.StateChange{}
		}
	}
}

func (r *recorder) states() []client.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]client.StateChange(nil), r.changes...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func fastRetry(maxAttempts int) client.RetryPolicy {
	return client.RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     maxAttempts,
	}
}

func newTestClient(t *testing.T, d transport.Dialer, opts ...client.Option) *client.Client {
	t.Helper()
	base := []client.Option{
		client.WithDialer(d),
		client.WithChatID(1),
		client.WithRetryPolicy(fastRetry(3)),
		client.WithCloseTimeout(200 * time.Millisecond),
	}
	c, err := client.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close(1000, "")
		select {
		case <-c.Done():
		case <-time.After(waitTimeout):
		}
	})
	return c
}

func waitDone(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session not closed, state %v", c.State())
	}
}
