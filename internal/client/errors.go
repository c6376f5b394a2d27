package client

import (
	"errors"
	"fmt"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

var (
	// ErrInvalidEndpoint is returned by Connect for anything but a ws:// or
	// wss:// URL with a host.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrNotConnected is returned by Send on an Idle or Closed session.
	ErrNotConnected = errors.New("not connected to server")
	// ErrTransportFailure ends a session whose reconnect attempts ran out.
	ErrTransportFailure = errors.New("transport failure")
	// ErrMalformedPayload is wrapped by MalformedPayloadError.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrCloseTimeout reports a closing handshake the peer never finished.
	ErrCloseTimeout = errors.New("close handshake timed out")
	// ErrSessionActive is returned by Connect while a session is in use.
	ErrSessionActive = errors.New("session already active")
	// ErrSessionClosed is the cause of queued sends discarded by a close that
	// was not a retry failure.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidPayload is returned by Send for a message that cannot be encoded.
	ErrInvalidPayload = protocol.ErrInvalidPayload
	// ErrInvalidCloseCode is returned by Close for a code or reason that
	// cannot be sent.
	ErrInvalidCloseCode = protocol.ErrInvalidCloseCode
)

// MalformedPayloadError reports an inbound frame that is not UTF-8 text.
// The session stays open.
type MalformedPayloadError struct {
	Type transport.MessageType
	Data []byte
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %s frame of %d bytes", e.Type, len(e.Data))
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayload }

// SendError reports a queued message that was never delivered.
type SendError struct {
	Message protocol.Message
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send message: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
