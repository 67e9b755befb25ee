package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// MessageType represents the kind of content a message carries
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVoice MessageType = "voice"
	MessageTypeVideo MessageType = "video"
)

// DeliveryStatus tracks an outgoing message from the local user's side
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusPending   DeliveryStatus = "pending" // waiting in the outbox for a connection
	StatusFailed    DeliveryStatus = "failed"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
)

// Message represents a chat message as held in memory by the client
type Message struct {
	ID          int64          // server assigned, 0 while temporary
	Nonce       string         // client generated for optimistic sends
	SenderID    int64
	SenderName  string
	Content     string
	Type        MessageType
	ReplyToID   int64
	CreatedAt   time.Time
	EditedAt    *time.Time
	IsRead      bool
	ReadAt      *time.Time
	DeliveredAt *time.Time
	Status      DeliveryStatus
	IsUnsent    bool           // tombstone, kept in the sequence
	IsTemp      bool           // optimistic entry not yet echoed by the server
}

// NewTempMessage creates the optimistic entry shown while a send is in flight
func NewTempMessage(senderID int64, nonce, content string, replyTo int64, now time.Time) *Message {
	return &Message{
		Nonce:     nonce,
		SenderID:  senderID,
		Content:   content,
		Type:      ClassifyContent("", content),
		ReplyToID: replyTo,
		CreatedAt: now,
		Status:    StatusSending,
		IsTemp:    true,
	}
}

// FromEvent builds a message from an inbound message envelope
func FromEvent(ev protocol.Message) *Message {
	m := &Message{
		ID:         ev.ID,
		Nonce:      ev.Nonce,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderUsername,
		Content:    ev.Content,
		Type:       ClassifyContent(MessageType(ev.MessageType), ev.Content),
		ReplyToID:  ev.ReplyToID,
		CreatedAt:  ev.CreatedAt.Time,
		IsRead:     ev.IsRead,
		ReadAt:     ev.ReadAt.Ptr(),
		Status:     StatusSent,
	}
	if m.IsRead {
		m.Status = StatusSeen
	}
	return m
}

// MarkRead records that the message has been read. Read state never reverts.
func (m *Message) MarkRead(at time.Time) bool {
	if m.IsRead {
		return false
	}
	m.IsRead = true
	m.ReadAt = &at
	m.Status = StatusSeen
	return true
}

// Edit updates the message content
func (m *Message) Edit(newContent string, at time.Time) {
	m.Content = newContent
	m.EditedAt = &at
}

// Unsend turns the message into a tombstone
func (m *Message) Unsend() {
	m.IsUnsent = true
	m.Content = ""
}

// IsEdited returns true if the message has been edited
func (m *Message) IsEdited() bool {
	return m.EditedAt != nil
}

// IsReply returns true if this message is a reply to another message
func (m *Message) IsReply() bool {
	return m.ReplyToID != 0
}

// Clone returns a copy that does not share pointers with m
func (m *Message) Clone() *Message {
	c := *m
	c.EditedAt = clonePtr(m.EditedAt)
	c.ReadAt = clonePtr(m.ReadAt)
	c.DeliveredAt = clonePtr(m.DeliveredAt)
	return &c
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var imageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|bmp|svg)$`)

// ClassifyContent labels a message when the sender did not say what it is.
// Image links are recognised by extension, CDN host or data/blob scheme.
func ClassifyContent(declared MessageType, content string) MessageType {
	if declared != "" {
		return declared
	}
	if imageExt.MatchString(content) ||
		strings.Contains(content, "cloudinary.com") ||
		strings.HasPrefix(content, "data:image/") ||
		strings.HasPrefix(content, "blob:") {
		return MessageTypeImage
	}
	return MessageTypeText
}
