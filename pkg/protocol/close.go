package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Close codes as registered for the WebSocket protocol.
const (
	CloseNormal             = 1000
	CloseGoingAway          = 1001
	CloseProtocolError      = 1002
	CloseUnsupportedData    = 1003
	CloseNoStatus           = 1005
	CloseAbnormal           = 1006
	CloseInvalidPayloadData = 1007
	ClosePolicyViolation    = 1008
	CloseMessageTooBig      = 1009
	CloseMandatoryExtension = 1010
	CloseInternalError      = 1011
	CloseServiceRestart     = 1012
	CloseTryAgainLater      = 1013
	CloseBadGateway         = 1014
)

// maxReasonBytes keeps a close frame body within the 125 byte control frame limit.
const maxReasonBytes = 123

// ErrInvalidCloseCode is returned for close codes or reasons that may not be sent.
var ErrInvalidCloseCode = errors.New("invalid close code")

// CloseInfo describes how a session ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// String returns "code: reason".
func (c CloseInfo) String() string {
	if c.Reason == "" {
		return fmt.Sprintf("%d", c.Code)
	}
	return fmt.Sprintf("%d: %s", c.Code, c.Reason)
}

// ValidateClose reports whether code and reason may be sent in a close frame.
// 1005, 1006 and 1015 are reserved for local use and never go on the wire.
func ValidateClose(code int, reason string) error {
	switch {
	case code >= 1000 && code <= 1003:
	case code >= 1007 && code <= 1014:
	case code >= 3000 && code <= 4999:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidCloseCode, code)
	}
	if len(reason) > maxReasonBytes {
		return fmt.Errorf("%w: reason longer than %d bytes", ErrInvalidCloseCode, maxReasonBytes)
	}
	if !utf8.ValidString(reason) {
		return fmt.Errorf("%w: reason is not valid UTF-8", ErrInvalidCloseCode)
	}
	return nil
}

// Transient reports whether a close code received from the peer describes a
// condition worth reconnecting after.
func Transient(code int) bool {
	switch code {
	case CloseGoingAway, CloseAbnormal, CloseInternalError,
		CloseServiceRestart, CloseTryAgainLater, CloseBadGateway:
		return true
	default:
		return false
	}
}
