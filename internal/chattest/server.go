// Package chattest provides an in-process chat endpoint for tests, in the
// spirit of net/http/httptest. It speaks the same frames as the real
// /ws/chat endpoint: JSON {chat_id, message} in, JSON answers out.
package chattest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/chat-session/pkg/protocol"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"nhooyr.io/websocket"
)

// Path is where the endpoint accepts WebSocket upgrades.
const Path = "/ws/chat"

// Responder computes the reply to one received frame. ok=false sends nothing.
type Responder func(frame []byte) (reply string, ok bool)

// Option configures a Server.
type Option func(*Server)

// WithResponder sets how the server answers frames. By default it stays silent.
func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.respond = r
	}
}

// Server is a fake chat endpoint bound to a loopback port.
type Server struct {
	srv      *httptest.Server
	respond  Responder
	received chan []byte
	reject   atomic.Int32
	accepted atomic.Int32

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer starts a Server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		received: make(chan []byte, 256),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWebSocket)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the chat endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + Path
}

// Received yields every frame the server read, in order.
func (s *Server) Received() <-chan []byte {
	return s.received
}

// Accepted returns the number of WebSocket sessions accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// RejectNext answers the next n handshakes with 503.
func (s *Server) RejectNext(n int) {
	s.reject.Store(int32(n))
}

// Send writes a text frame to every open connection.
func (s *Server) Send(ctx context.Context, text string) error {
	return s.write(ctx, websocket.MessageText, []byte(text))
}

// SendBinary writes a binary frame to every open connection.
func (s *Server) SendBinary(ctx context.Context, data []byte) error {
	return s.write(ctx, websocket.MessageBinary, data)
}

func (s *Server) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	for _, c := range s.snapshot() {
		if err := c.Write(ctx, typ, data); err != nil {
			return err
		}
	}
	return nil
}

// DropAll tears down every connection without a closing handshake.
func (s *Server) DropAll() {
	for _, c := range s.snapshot() {
		_ = c.CloseNow()
	}
}

// CloseAll starts a closing handshake with code and reason on every connection.
func (s *Server) CloseAll(code int, reason string) {
	for _, c := range s.snapshot() {
		go c.Close(websocket.StatusCode(code), reason)
	}
}

// Close drops all connections and stops the listener.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *Server) snapshot() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() > 0 && s.reject.Add(-1) >= 0 {
		http.Error(w, "try again later", http.StatusServiceUnavailable)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.CloseNow()
	}()

	ctx := context.Background()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		select {
		case s.received <- data:
		default:
		}
		if s.respond == nil {
			continue
		}
		if reply, ok := s.respond(data); ok {
			if err := c.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
	}
}

// Answer replies the way the agent endpoint does: the message text comes
// back as {"answer": ..., "response_date": <ISO-8601>}, serialized once more
// as a JSON string.
func Answer(frame []byte) (string, bool) {
	fields, err := protocol.DecodeFrame(frame)
	if err != nil {
		return `"Dados recebidos não estão de acordo com o esperado!"`, true
	}
	msg, _ := fields[protocol.FieldMessage].(string)
	body, err := structpb.NewStruct(map[string]any{
		"answer":        msg,
		"response_date": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", false
	}
	inner, err := protojson.Marshal(body)
	if err != nil {
		return "", false
	}
	data, err := protojson.Marshal(structpb.NewStringValue(string(inner)))
	if err != nil {
		return "", false
	}
	return string(data), true
}
