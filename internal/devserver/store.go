package devserver

import (
	"sort"
	"sync"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// Store keeps each conversation's messages in memory for the history
// endpoint. Nothing survives a restart.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	convs  map[protocol.ConversationID]*conversation
}

type conversation struct {
	messages []protocol.Message
	members  map[int64]struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{convs: make(map[protocol.ConversationID]*conversation)}
}

func (s *Store) get(id protocol.ConversationID) *conversation {
	c, ok := s.convs[id]
	if !ok {
		c = &conversation{members: make(map[int64]struct{})}
		s.convs[id] = c
	}
	return c
}

// Join records userID as a participant of the conversation
func (s *Store) Join(id protocol.ConversationID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(id).members[userID] = struct{}{}
}

// Append assigns the next message id and stores msg
func (s *Store) Append(id protocol.ConversationID, msg protocol.Message) protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	c := s.get(id)
	c.members[msg.SenderID] = struct{}{}
	c.messages = append(c.messages, msg)
	return msg
}

// MarkRead marks messages up to and including through as read, skipping
// those the reader sent. Returns how many changed.
func (s *Store) MarkRead(id protocol.ConversationID, through, reader int64, at protocol.Timestamp) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return 0
	}
	n := 0
	for i := range c.messages {
		m := &c.messages[i]
		if m.ID > through || m.SenderID == reader || m.IsRead {
			continue
		}
		m.IsRead = true
		m.ReadAt = at
		n++
	}
	return n
}

// Edit replaces the content of a message authored by author
func (s *Store) Edit(id protocol.ConversationID, msgID, author int64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.find(id, msgID); m != nil && m.SenderID == author {
		m.Content = content
		return true
	}
	return false
}

// Remove drops a message authored by author. Unsent and deleted messages
// both disappear from history.
func (s *Store) Remove(id protocol.ConversationID, msgID, author int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return false
	}
	for i, m := range c.messages {
		if m.ID == msgID && m.SenderID == author {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) find(id protocol.ConversationID, msgID int64) *protocol.Message {
	c, ok := s.convs[id]
	if !ok {
		return nil
	}
	for i := range c.messages {
		if c.messages[i].ID == msgID {
			return &c.messages[i]
		}
	}
	return nil
}

// Private returns the messages of the conversations user and peer both take
// part in, oldest first.
func (s *Store) Private(user, peer int64) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []protocol.Message{}
	for _, c := range s.convs {
		_, hasUser := c.members[user]
		_, hasPeer := c.members[peer]
		if hasUser && hasPeer {
			out = append(out, c.messages...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
