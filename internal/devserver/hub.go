package devserver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/protocol"
)

const (
	// TypingTimeout is how long a typing indicator lasts without a refresh
	TypingTimeout = 10 * time.Second

	maxContentLength = 2000
)

// inbound is a decoded frame waiting to be handled by the hub
type inbound struct {
	client *client
	ev     protocol.Event
}

// Hub keeps one room per conversation and relays events between its members
type Hub struct {
	rooms map[protocol.ConversationID]map[*client]struct{}
	mu    sync.RWMutex

	register   chan *client
	unregister chan *client
	inbound    chan inbound
	done       chan struct{}

	// conversation -> user -> expiry
	typing map[protocol.ConversationID]map[int64]time.Time

	store *Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewHub creates a hub backed by store
func NewHub(store *Store, log zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[protocol.ConversationID]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
		typing:     make(map[protocol.ConversationID]map[int64]time.Time),
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// Run handles registrations and inbound events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case in := <-h.inbound:
			h.handle(in.client, in.ev)
		case <-ticker.C:
			h.expireTyping()
		}
	}
}

// Online returns the number of connections in a conversation
func (h *Hub) Online(id protocol.ConversationID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[id])
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.conversation]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.conversation] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	h.store.Join(c.conversation, c.user.UserID)
	h.log.Info().
		Str("conversation", string(c.conversation)).
		Int64("user", c.user.UserID).
		Str("client", c.id).
		Msg("client joined")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.conversation]
	if _, member := room[c]; !ok || !member {
		h.mu.Unlock()
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.conversation)
	}
	h.mu.Unlock()

	close(c.send)

	if h.clearTyping(c.conversation, c.user.UserID) {
		h.broadcast(c.conversation, protocol.Typing{IsTyping: false, UserID: c.user.UserID}, c)
	}
	h.log.Info().
		Str("conversation", string(c.conversation)).
		Int64("user", c.user.UserID).
		Str("client", c.id).
		Msg("client left")
}

func (h *Hub) handle(c *client, ev protocol.Event) {
	conv := c.conversation
	uid := c.user.UserID

	switch e := ev.(type) {
	case protocol.Message:
		content := strings.TrimSpace(e.Content)
		if content == "" {
			h.sendError(c, "Message content cannot be empty")
			return
		}
		if len(content) > maxContentLength {
			h.sendError(c, "Message content too long (max 2000 characters)")
			return
		}
		if e.MessageType == "" {
			e.MessageType = "text"
		}
		msg := h.store.Append(conv, protocol.Message{
			SenderID:       uid,
			SenderUsername: c.user.Username,
			Content:        content,
			CreatedAt:      protocol.At(h.now()),
			MessageType:    e.MessageType,
			ReplyToID:      e.ReplyToID,
			Nonce:          e.Nonce,
		})
		h.clearTyping(conv, uid)
		h.broadcast(conv, msg, nil)

	case protocol.Typing:
		e.UserID = uid
		if e.IsTyping {
			h.setTyping(conv, uid)
		} else {
			h.clearTyping(conv, uid)
		}
		h.broadcast(conv, e, c)

	case protocol.ReadReceipt:
		e.ReadBy = uid
		if e.ReadAt.IsZero() {
			e.ReadAt = protocol.At(h.now())
		}
		h.store.MarkRead(conv, e.MessageID, uid, e.ReadAt)
		h.broadcast(conv, e, c)

	case protocol.MessageEdited:
		if !h.store.Edit(conv, e.MessageID, uid, e.Content) {
			h.sendError(c, "Message not found")
			return
		}
		e.EditedAt = protocol.At(h.now())
		h.broadcast(conv, e, nil)

	case protocol.MessageUnsent:
		if !h.store.Remove(conv, e.MessageID, uid) {
			h.sendError(c, "Message not found")
			return
		}
		h.broadcast(conv, e, nil)

	case protocol.MessageDeleted:
		if !h.store.Remove(conv, e.MessageID, uid) {
			h.sendError(c, "Message not found")
			return
		}
		h.broadcast(conv, e, nil)

	default:
		h.log.Debug().
			Str("conversation", string(conv)).
			Str("type", string(ev.Kind())).
			Msg("ignoring event")
	}
}

// broadcast sends ev to every member of the conversation except exclude
func (h *Hub) broadcast(id protocol.ConversationID, ev protocol.Event, exclude *client) {
	data, err := protocol.Encode(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[id] {
		if c == exclude {
			continue
		}
		h.deliver(c, data)
	}
}

func (h *Hub) sendError(c *client, text string) {
	data, err := encodeError(text)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[c.conversation][c]; ok {
		h.deliver(c, data)
	}
}

// deliver must be called with mu held so send is not closed underneath it
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn().Int64("user", c.user.UserID).Msg("client buffer full, dropping frame")
	}
}

func (h *Hub) setTyping(id protocol.ConversationID, uid int64) {
	users, ok := h.typing[id]
	if !ok {
		users = make(map[int64]time.Time)
		h.typing[id] = users
	}
	users[uid] = h.now().Add(TypingTimeout)
}

func (h *Hub) clearTyping(id protocol.ConversationID, uid int64) bool {
	users, ok := h.typing[id]
	if !ok {
		return false
	}
	if _, ok := users[uid]; !ok {
		return false
	}
	delete(users, uid)
	if len(users) == 0 {
		delete(h.typing, id)
	}
	return true
}

// expireTyping announces a stop for indicators that were never refreshed
func (h *Hub) expireTyping() {
	now := h.now()
	for id, users := range h.typing {
		for uid, expires := range users {
			if now.Before(expires) {
				continue
			}
			delete(users, uid)
			h.broadcast(id, protocol.Typing{IsTyping: false, UserID: uid}, nil)
		}
		if len(users) == 0 {
			delete(h.typing, id)
		}
	}
}
