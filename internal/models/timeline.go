package models

import (
	"sort"
	"time"
)

// Timeline is the ordered in-memory message sequence of one conversation.
// Messages are kept sorted by creation time; ties keep arrival order.
type Timeline struct {
	messages []*Message
}

// NewTimeline creates an empty timeline
func NewTimeline() *Timeline {
	return &Timeline{messages: make([]*Message, 0)}
}

// Len returns the number of messages, tombstones included
func (t *Timeline) Len() int {
	return len(t.messages)
}

// Messages returns the live slice. Callers must not retain it across mutations.
func (t *Timeline) Messages() []*Message {
	return t.messages
}

// Snapshot returns deep copies of every message
func (t *Timeline) Snapshot() []*Message {
	out := make([]*Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Find returns the message with the given server id
func (t *Timeline) Find(id int64) *Message {
	if id == 0 {
		return nil
	}
	for _, m := range t.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// FindNonce returns the message with the given client nonce
func (t *Timeline) FindNonce(nonce string) *Message {
	if nonce == "" {
		return nil
	}
	for _, m := range t.messages {
		if m.Nonce == nonce {
			return m
		}
	}
	return nil
}

// Append adds a locally created message at the end
func (t *Timeline) Append(m *Message) {
	t.messages = append(t.messages, m)
}

// Upsert merges a server message. A message already present by id is left
// alone. A temp entry with the same nonce, or failing that the oldest temp
// entry with the same content, is replaced. Returns false for duplicates.
func (t *Timeline) Upsert(m *Message) bool {
	if t.Find(m.ID) != nil {
		return false
	}

	replaced := -1
	for i, existing := range t.messages {
		if existing.IsTemp && m.Nonce != "" && existing.Nonce == m.Nonce {
			replaced = i
			break
		}
	}
	if replaced < 0 {
		for i, existing := range t.messages {
			if existing.IsTemp && existing.Content == m.Content && existing.SenderID == m.SenderID {
				replaced = i
				break
			}
		}
	}
	if replaced >= 0 {
		t.messages = append(t.messages[:replaced], t.messages[replaced+1:]...)
	}

	t.messages = append(t.messages, m)
	t.sort()
	return true
}

// Merge upserts a batch, typically a history backlog
func (t *Timeline) Merge(batch []*Message) int {
	added := 0
	for _, m := range batch {
		if t.Upsert(m) {
			added++
		}
	}
	return added
}

// Remove physically deletes a message
func (t *Timeline) Remove(id int64) bool {
	for i, m := range t.messages {
		if m.ID == id && id != 0 {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Unread returns the unread messages matching the predicate, oldest first
func (t *Timeline) Unread(match func(*Message) bool) []*Message {
	var out []*Message
	for _, m := range t.messages {
		if !m.IsRead && !m.IsTemp && match(m) {
			out = append(out, m)
		}
	}
	return out
}

// MarkReadThrough marks every matching message up to and including id as
// read. Returns the number of messages that changed.
func (t *Timeline) MarkReadThrough(id int64, at time.Time, match func(*Message) bool) int {
	end := -1
	for i, m := range t.messages {
		if m.ID == id {
			end = i
			break
		}
	}
	if end < 0 {
		return 0
	}

	changed := 0
	for _, m := range t.messages[:end+1] {
		if match(m) && m.MarkRead(at) {
			changed++
		}
	}
	return changed
}

// Clear drops every message
func (t *Timeline) Clear() {
	t.messages = make([]*Message, 0)
}

func (t *Timeline) sort() {
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
	})
}
