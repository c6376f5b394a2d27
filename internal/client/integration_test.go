package client_test

import (
	"errors"
	"testing"
	"time"

	"github.com/omochice/chat-session/internal/chattest"
	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/transport/dial"
	"github.com/omochice/chat-session/pkg/protocol"
)

func newServerClient(t *testing.T, transportName string, opts ...client.Option) *client.Client {
	t.Helper()
	d, err := dial.New(transportName)
	if err != nil {
		t.Fatalf("dial.New(%q) error = %v", transportName, err)
	}
	return newTestClient(t, d, opts...)
}

func waitAccepted(t *testing.T, srv *chattest.Server, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for srv.Accepted() < n {
		if time.Now().After(deadline) {
			t.Fatalf("server accepted %d sessions, want %d", srv.Accepted(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIntegration_ChatRoundTrip(t *testing.T) {
	for _, name := range dial.Names {
		t.Run(name, func(t *testing.T) {
			srv := chattest.NewServer(t, chattest.WithResponder(chattest.Answer))
			c := newServerClient(t, name)
			rec := record(c)
			replies := make(chan protocol.Message, 1)
			c.OnMessage(func(m protocol.Message) { replies <- m })

			if err := c.Connect(srv.URL()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			rec.waitFor(t, client.StateOpen)

			if err := c.SendText("Oi"); err != nil {
				t.Fatalf("SendText() error = %v", err)
			}

			select {
			case m := <-replies:
				text, _ := m.Text()
				reply, err := protocol.ParseReply(text)
				if err != nil {
					t.Fatalf("ParseReply(%q) error = %v", text, err)
				}
				if reply.Answer != "Oi" {
					t.Errorf("Answer = %q, want %q", reply.Answer, "Oi")
				}
				if reply.ResponseDate.IsZero() {
					t.Error("ResponseDate not decoded")
				}
			case <-time.After(waitTimeout):
				t.Fatal("timeout waiting for reply")
			}

			if err := c.Close(protocol.CloseNormal, "bye"); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			sc := rec.waitFor(t, client.StateClosed)
			if sc.Err != nil {
				t.Errorf("Err = %v, want a clean close", sc.Err)
			}
			if sc.Close == nil || sc.Close.Code != protocol.CloseNormal || sc.Close.Reason != "bye" {
				t.Errorf("close info = %v, want 1000: bye", sc.Close)
			}
		})
	}
}

func TestIntegration_ReconnectAfterServerDrop(t *testing.T) {
	srv := chattest.NewServer(t)
	c := newServerClient(t, dial.Nhooyr)
	rec := record(c)

	if err := c.Connect(srv.URL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.waitFor(t, client.StateOpen)
	waitAccepted(t, srv, 1)

	srv.DropAll()
	rec.waitFor(t, client.StateConnecting)
	rec.waitFor(t, client.StateOpen)
	waitAccepted(t, srv, 2)

	if err := c.SendText("still here"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	select {
	case got := <-srv.Received():
		fields, err := protocol.DecodeFrame(got)
		if err != nil {
			t.Fatalf("DecodeFrame() error = %v", err)
		}
		if fields[protocol.FieldMessage] != "still here" {
			t.Errorf("message = %v, want %q", fields[protocol.FieldMessage], "still here")
		}
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for frame after reconnect")
	}
}

func TestIntegration_RejectedHandshakesAreRetried(t *testing.T) {
	srv := chattest.NewServer(t)
	srv.RejectNext(2)
	c := newServerClient(t, dial.Gorilla, client.WithRetryPolicy(fastRetry(3)))
	rec := record(c)

	if err := c.Connect(srv.URL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sc := rec.waitFor(t, client.StateOpen)
	if sc.From != client.StateConnecting {
		t.Errorf("From = %v, want CONNECTING", sc.From)
	}
	if info := c.Session(); info.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", info.Attempt)
	}
}

func TestIntegration_ServerPolicyClose(t *testing.T) {
	for _, name := range dial.Names {
		t.Run(name, func(t *testing.T) {
			srv := chattest.NewServer(t)
			c := newServerClient(t, name)
			rec := record(c)

			if err := c.Connect(srv.URL()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			rec.waitFor(t, client.StateOpen)
			waitAccepted(t, srv, 1)

			srv.CloseAll(protocol.ClosePolicyViolation, "not allowed")
			sc := rec.waitFor(t, client.StateClosed)
			if sc.Close == nil || sc.Close.Code != protocol.ClosePolicyViolation {
				t.Fatalf("close info = %v, want code %d", sc.Close, protocol.ClosePolicyViolation)
			}
			if sc.Close.Reason != "not allowed" {
				t.Errorf("Reason = %q, want %q", sc.Close.Reason, "not allowed")
			}
			if srv.Accepted() != 1 {
				t.Errorf("accepted %d sessions, want no reconnect", srv.Accepted())
			}
		})
	}
}

func TestIntegration_UnreachableEndpoint(t *testing.T) {
	srv := chattest.NewServer(t)
	url := srv.URL()
	srv.Close()

	c := newServerClient(t, dial.Gobwas, client.WithRetryPolicy(fastRetry(2)))
	rec := record(c)
	if err := c.Connect(url); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	sc := rec.waitFor(t, client.StateClosed)
	if !errors.Is(sc.Err, client.ErrTransportFailure) {
		t.Errorf("Err = %v, want ErrTransportFailure", sc.Err)
	}
	if sc.Close == nil || sc.Close.Code != protocol.CloseAbnormal {
		t.Errorf("close info = %v, want code 1006", sc.Close)
	}
}
