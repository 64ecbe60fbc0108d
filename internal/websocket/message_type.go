package websocket

import (
	"encoding/json"
	"fmt"

	"presence-service/pkg/models"
)

// MessageType tags every frame on the push channel. The set is closed:
// anything else is dropped at the boundary.
type MessageType string

const (
	// Client -> server
	MessageTypePing MessageType = "presence.ping"
	MessageTypeIdle MessageType = "presence.idle"

	// Server -> client
	MessageTypeUpdate MessageType = "presence.update"
	MessageTypeBulk   MessageType = "presence.bulk"
	MessageTypeError  MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsValid checks if the MessageType is a valid enum value
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypePing, MessageTypeIdle, MessageTypeUpdate, MessageTypeBulk, MessageTypeError:
		return true
	default:
		return false
	}
}

// Message is the wire envelope. Data is decoded into the typed payload
// matching Type; loosely-typed maps never cross this boundary.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IdleData is the payload of presence.idle.
type IdleData struct {
	IsIdle bool `json:"isIdle"`
}

// BulkData is the payload of presence.bulk.
type BulkData struct {
	Users []models.UserPresence `json:"users"`
}

// ErrorData is the payload of error events.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeMessage parses and validates an inbound frame.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// EncodeUpdate builds a presence.update frame for one user's change.
func EncodeUpdate(presence models.UserPresence) ([]byte, error) {
	return encode(MessageTypeUpdate, presence)
}

// EncodeBulk builds a presence.bulk frame carrying a full tenant snapshot.
func EncodeBulk(users []models.UserPresence) ([]byte, error) {
	return encode(MessageTypeBulk, BulkData{Users: users})
}

// EncodeError builds an error frame.
func EncodeError(code, message string) ([]byte, error) {
	return encode(MessageTypeError, ErrorData{Code: code, Message: message})
}

func encode(mt MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", mt, err)
	}
	return json.Marshal(Message{Type: mt, Data: data})
}
