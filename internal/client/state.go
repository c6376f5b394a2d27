package client

import "github.com/omochice/chat-session/pkg/protocol"

// State is the lifecycle phase of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateChange is delivered to state observers on every transition.
// Connecting is re-entered once per reconnect attempt.
type StateChange struct {
	From State
	To   State
	// Attempt is the 1-based dial attempt for Connecting transitions.
	Attempt int
	// Close is set only when To is StateClosed.
	Close *protocol.CloseInfo
	// Err is the cause of an abnormal Closed transition.
	Err error
}
