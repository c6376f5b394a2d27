// Package protocol defines the chat wire format shared by the session client
// and its test endpoints.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field names of an outbound frame.
const (
	FieldChatID  = "chat_id"
	FieldMessage = "message"
)

// ErrInvalidPayload is returned when a message cannot be encoded to the wire format.
var ErrInvalidPayload = errors.New("invalid payload")

// Direction tells whether a message travels to or from the chat endpoint.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionOutbound:
		return "OUTBOUND"
	case DirectionInbound:
		return "INBOUND"
	default:
		return "UNKNOWN"
	}
}

// Message represents a chat message.
//
// ChatID is opaque to the client; it must be a string or an integer no
// larger in magnitude than 2^53, the largest a JSON number carries exactly.
// Outbound payloads may be any value encoding/json can marshal: scalars,
// slices, maps and tagged structs. Inbound payloads are the raw text of the
// received frame.
type Message struct {
	ChatID     any
	Payload    any
	Direction  Direction
	ReceivedAt time.Time
}

// Text builds an outbound message carrying a plain text payload.
func Text(chatID any, text string) Message {
	return Message{ChatID: chatID, Payload: text, Direction: DirectionOutbound}
}

// Inbound wraps a received text frame.
func Inbound(text string, at time.Time) Message {
	return Message{Payload: text, Direction: DirectionInbound, ReceivedAt: at}
}

// Text returns the payload when it is a string.
func (m *Message) Text() (string, bool) {
	s, ok := m.Payload.(string)
	return s, ok
}

// Encode encodes the message into a JSON object {"chat_id": ..., "message": ...}
// suitable for a UTF-8 text frame.
func (m *Message) Encode() ([]byte, error) {
	body, err := m.toStruct()
	if err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode message: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// toStruct converts the Message to a protobuf Struct.
// This conversion isolates protobuf implementation details from the public API.
func (m *Message) toStruct() (*structpb.Struct, error) {
	id, err := chatIDValue(m.ChatID)
	if err != nil {
		return nil, err
	}
	payload, err := payloadValue(m.Payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldChatID:  id,
		FieldMessage: payload,
	}}, nil
}

// maxExactInt is the largest integer a float64 JSON number holds exactly.
const maxExactInt = 1 << 53

// payloadValue converts v directly when structpb knows its type, and
// otherwise through its encoding/json form.
func payloadValue(v any) (*structpb.Value, error) {
	pv, err := structpb.NewValue(v)
	if err == nil {
		return pv, nil
	}
	if _, ok := v.(string); ok {
		// Only invalid UTF-8 fails here; encoding/json would silently replace it.
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T cannot be serialized: %v", ErrInvalidPayload, v, err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %T cannot be serialized: %v", ErrInvalidPayload, v, err)
	}
	pv, err = structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %T cannot be serialized: %v", ErrInvalidPayload, v, err)
	}
	return pv, nil
}

func chatIDValue(id any) (*structpb.Value, error) {
	switch v := id.(type) {
	case int:
		return exactInt(int64(v))
	case int8:
		return exactInt(int64(v))
	case int16:
		return exactInt(int64(v))
	case int32:
		return exactInt(int64(v))
	case int64:
		return exactInt(v)
	case uint:
		return exactUint(uint64(v))
	case uint8:
		return exactUint(uint64(v))
	case uint16:
		return exactUint(uint64(v))
	case uint32:
		return exactUint(uint64(v))
	case uint64:
		return exactUint(v)
	case string:
		return structpb.NewStringValue(v), nil
	case nil:
		return nil, fmt.Errorf("%w: chat id is required", ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: chat id must be an integer or a string, got %T", ErrInvalidPayload, id)
	}
}

func exactInt(n int64) (*structpb.Value, error) {
	if n > maxExactInt || n < -maxExactInt {
		return nil, fmt.Errorf("%w: chat id %d does not fit a JSON number exactly", ErrInvalidPayload, n)
	}
	return structpb.NewNumberValue(float64(n)), nil
}

func exactUint(n uint64) (*structpb.Value, error) {
	if n > maxExactInt {
		return nil, fmt.Errorf("%w: chat id %d does not fit a JSON number exactly", ErrInvalidPayload, n)
	}
	return structpb.NewNumberValue(float64(n)), nil
}

// DecodeFrame decodes a text frame produced by Encode back into its fields.
// Numbers come back as float64, as with encoding/json.
func DecodeFrame(data []byte) (map[string]any, error) {
	body := &structpb.Struct{}
	if err := protojson.Unmarshal(data, body); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return body.AsMap(), nil
}
