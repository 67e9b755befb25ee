package realtime

import (
	"github.com/google/uuid"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// Subscription is the handle returned by Subscribe. Removal goes by handle,
// so registering the same func twice yields two independent registrations.
type Subscription struct {
	id           uuid.UUID
	conversation protocol.ConversationID
	listener     Listener
	m            *Multiplexer
}

// ID returns the subscription id used in logs
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Conversation returns the conversation the listener is registered for
func (s *Subscription) Conversation() protocol.ConversationID {
	return s.conversation
}

// Cancel unsubscribes; calling it more than once is harmless
func (s *Subscription) Cancel() {
	if s == nil || s.m == nil {
		return
	}
	s.m.Unsubscribe(s.conversation, s)
}
