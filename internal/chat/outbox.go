package chat

import (
	"fmt"
	"strings"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// OutboxPolicy decides what happens to a message sent while the
// conversation's connection is not open
type OutboxPolicy int

const (
	// OutboxQueue holds the message until the connection opens
	OutboxQueue OutboxPolicy = iota
	// OutboxDrop marks the message failed
	OutboxDrop
)

func (p OutboxPolicy) String() string {
	if p == OutboxDrop {
		return "drop"
	}
	return "queue"
}

// ParseOutboxPolicy parses "queue" or "drop"
func ParseOutboxPolicy(s string) (OutboxPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "queue":
		return OutboxQueue, nil
	case "drop":
		return OutboxDrop, nil
	default:
		return OutboxQueue, fmt.Errorf("invalid outbox policy %q", s)
	}
}

// Outbox holds message envelopes waiting for an open connection, in send order
type Outbox struct {
	entries []protocol.Message
}

// Push queues msg
func (o *Outbox) Push(msg protocol.Message) {
	o.entries = append(o.entries, msg)
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	return len(o.entries)
}

// Flush sends queued messages in order until send fails. Messages from the
// failed one on stay queued. Returns the messages that were sent.
func (o *Outbox) Flush(send func(protocol.Message) bool) []protocol.Message {
	var sent []protocol.Message
	for len(o.entries) > 0 {
		if !send(o.entries[0]) {
			break
		}
		sent = append(sent, o.entries[0])
		o.entries = o.entries[1:]
	}
	return sent
}

// Clear drops every queued message
func (o *Outbox) Clear() {
	o.entries = nil
}
