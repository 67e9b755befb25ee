package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ConversationID identifies a one-to-one or group conversation. Each
// conversation is carried by its own transport connection.
type ConversationID string

// Type is the discriminator carried in every envelope's "type" field
type Type string

const (
	TypeMessage       Type = "message"
	TypeTyping        Type = "typing"
	TypeReadReceipt   Type = "read_receipt"
	TypeStatusUpdate  Type = "message_status_update"
	TypeMessageEdited Type = "message_edited"
	TypeMessageUnsent Type = "message_unsent"
	TypeMessageDelete Type = "message_deleted"
	TypeHeartbeat     Type = "heartbeat"
)

// ErrMissingType is returned by Decode for frames that carry neither a type
// nor a server error.
var ErrMissingType = errors.New("envelope has no type")

// Event is one decoded envelope. The concrete types below are the only
// implementations.
type Event interface {
	Kind() Type
}

// Message is a chat message envelope.
type Message struct {
	ID             int64     `json:"id,omitempty"`
	SenderID       int64     `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      Timestamp `json:"created_at,omitzero"`
	MessageType    string    `json:"message_type,omitempty"`
	ReplyToID      int64     `json:"reply_to_id,omitempty"`
	Nonce          string    `json:"nonce,omitempty"` // client generated, echoed back by the server
	IsRead         bool      `json:"is_read,omitempty"`
	ReadAt         Timestamp `json:"read_at,omitzero"`
}

// Typing announces that a user started or stopped typing.
type Typing struct {
	IsTyping bool  `json:"is_typing"`
	UserID   int64 `json:"user_id,omitempty"`
}

// ReadReceipt states that everything up to and including MessageID is read.
type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	ReadAt    Timestamp `json:"read_at,omitzero"`
	ReadBy    int64     `json:"read_by,omitempty"`
}

// StatusUpdate carries delivery/read state changes for one message.
type StatusUpdate struct {
	MessageID   int64     `json:"message_id"`
	IsRead      bool      `json:"is_read,omitempty"`
	ReadAt      Timestamp `json:"read_at,omitzero"`
	DeliveredAt Timestamp `json:"delivered_at,omitzero"`
	Status      string    `json:"status,omitempty"`
}

// MessageEdited replaces the content of an existing message.
type MessageEdited struct {
	MessageID int64     `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  Timestamp `json:"edited_at,omitzero"`
}

// MessageUnsent turns a message into a tombstone.
type MessageUnsent struct {
	MessageID int64 `json:"message_id"`
}

// MessageDeleted removes a message from the conversation.
type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
}

// Heartbeat keeps intermediaries from timing out an idle connection.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// ServerError is a frame the server sends without a type, e.g. after
// receiving a frame it could not parse.
type ServerError struct {
	Error string `json:"error"`
}

// Unknown is any well-formed envelope whose type this client does not handle.
type Unknown struct {
	Type Type
	Raw  json.RawMessage
}

func (Message) Kind() Type        { return TypeMessage }
func (Typing) Kind() Type         { return TypeTyping }
func (ReadReceipt) Kind() Type    { return TypeReadReceipt }
func (StatusUpdate) Kind() Type   { return TypeStatusUpdate }
func (MessageEdited) Kind() Type  { return TypeMessageEdited }
func (MessageUnsent) Kind() Type  { return TypeMessageUnsent }
func (MessageDeleted) Kind() Type { return TypeMessageDelete }
func (Heartbeat) Kind() Type      { return TypeHeartbeat }
func (ServerError) Kind() Type    { return "" }
func (u Unknown) Kind() Type      { return u.Type }

// header is decoded first to pick the concrete event type
type header struct {
	Type  Type    `json:"type"`
	Error *string `json:"error"`
}

// Decode parses one text frame into a typed event.
func Decode(data []byte) (Event, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch h.Type {
	case TypeMessage:
		return decodeAs[Message](data)
	case TypeTyping:
		return decodeAs[Typing](data)
	case TypeReadReceipt:
		return decodeAs[ReadReceipt](data)
	case TypeStatusUpdate:
		return decodeAs[StatusUpdate](data)
	case TypeMessageEdited:
		return decodeAs[MessageEdited](data)
	case TypeMessageUnsent:
		return decodeAs[MessageUnsent](data)
	case TypeMessageDelete:
		return decodeAs[MessageDeleted](data)
	case TypeHeartbeat:
		return decodeAs[Heartbeat](data)
	case "":
		if h.Error != nil {
			return ServerError{Error: *h.Error}, nil
		}
		return nil, ErrMissingType
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: h.Type, Raw: raw}, nil
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", ev.Kind(), err)
	}
	return ev, nil
}

// Encode serializes an event with its "type" discriminator.
func Encode(ev Event) ([]byte, error) {
	if u, ok := ev.(Unknown); ok {
		return u.Raw, nil
	}
	kind := ev.Kind()
	if kind == "" {
		return nil, fmt.Errorf("cannot encode %T: %w", ev, ErrMissingType)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal type %q: %w", kind, err)
	}
	fields["type"] = tag

	return json.Marshal(fields)
}

// CloseCode represents WebSocket close codes
type CloseCode int

const (
	CloseNormal        CloseCode = 1000
	CloseGoingAway     CloseCode = 1001
	CloseAbnormal      CloseCode = 1006
	CloseServerError   CloseCode = 1011
	CloseUnauthorized  CloseCode = 4001
	CloseNotAMember    CloseCode = 4003
	CloseNoCloseStatus CloseCode = 1005
)
