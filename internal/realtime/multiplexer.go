package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// ConnState represents the state of one conversation connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable string representation of the connection state
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotInitialized is returned by Connect before Init was called
	ErrNotInitialized = errors.New("multiplexer not initialized")
	// ErrDisposed is returned once Dispose has run
	ErrDisposed = errors.New("multiplexer disposed")
)

// Listener receives every inbound event of the conversation it subscribed
// to. A returned error is logged; it never stops delivery to other listeners.
type Listener func(ev protocol.Event) error

// StateChange describes one connection state transition
type StateChange struct {
	Conversation protocol.ConversationID
	State        ConnState
	Code         protocol.CloseCode // set on Closed
	Err          error              // dial or read failure, nil on clean closes
	Local        bool               // the close was requested through Disconnect
}

// StateListener receives connection state transitions
type StateListener func(StateChange)

type watcher struct {
	fn StateListener
}

// Multiplexer owns at most one connection per conversation and fans inbound
// events out to the listeners registered for that conversation.
type Multiplexer struct {
	baseURL *url.URL
	token   string

	conns     map[protocol.ConversationID]*conn
	listeners map[protocol.ConversationID][]*Subscription
	watchers  []*watcher
	disposed  bool

	dialer    *websocket.Dialer
	heartbeat time.Duration
	closeWait time.Duration
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// Option configures a Multiplexer
type Option func(*Multiplexer)

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Multiplexer) {
		m.log = log.With().Str("component", "multiplexer").Logger()
	}
}

// WithHeartbeat sets the application heartbeat period; zero disables it
func WithHeartbeat(d time.Duration) Option {
	return func(m *Multiplexer) {
		m.heartbeat = d
	}
}

// WithHandshakeTimeout bounds the opening handshake
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Multiplexer) {
		m.dialer.HandshakeTimeout = d
	}
}

// WithCloseWait bounds how long Disconnect waits for the peer's close frame
func WithCloseWait(d time.Duration) Option {
	return func(m *Multiplexer) {
		m.closeWait = d
	}
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Multiplexer) {
		m.dialer = d
	}
}

// New creates a Multiplexer. Init must be called before Connect.
func New(opts ...Option) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Multiplexer{
		conns:     make(map[protocol.ConversationID]*conn),
		listeners: make(map[protocol.ConversationID][]*Subscription),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		heartbeat: 30 * time.Second,
		closeWait: 5 * time.Second,
		log:       zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init sets the endpoint base and bearer token used by later connects.
// http and https bases are mapped to ws and wss.
func (m *Multiplexer) Init(baseURL, token string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid base url %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	m.baseURL = u
	m.token = token
	return nil
}

// Dispose closes every connection with a going-away code and drops all
// listeners. The multiplexer cannot be used afterwards.
func (m *Multiplexer) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	ids := make([]protocol.ConversationID, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.listeners = make(map[protocol.ConversationID][]*Subscription)
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id, protocol.CloseGoingAway, "client shutting down")
	}
	m.cancel()
}

// Connect opens the conversation's connection. It is a no-op while an entry
// for id exists in any state; a closing entry must finish closing before a
// new connection can be made.
func (m *Multiplexer) Connect(id protocol.ConversationID) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if m.baseURL == nil {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	c := newConn(m, id, cancel)
	m.conns[id] = c
	target := m.endpoint(id)
	m.mu.Unlock()

	m.log.Debug().Str("conversation", string(id)).Msg("connecting")
	m.notify(StateChange{Conversation: id, State: StateConnecting})

	go c.dial(ctx, target)
	return nil
}

// Disconnect starts closing the conversation's connection. The entry is
// removed once the peer acknowledges the close, not synchronously.
func (m *Multiplexer) Disconnect(id protocol.ConversationID, code protocol.CloseCode, reason string) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok || c.localClose {
		m.mu.Unlock()
		return
	}
	c.localClose = true
	c.closeCode = code
	c.closeReason = reason
	prev := c.state
	if prev == StateOpen {
		c.state = StateClosing
	}
	m.mu.Unlock()

	switch prev {
	case StateConnecting:
		c.cancelDial()
	case StateOpen:
		m.log.Debug().Str("conversation", string(id)).Int("code", int(code)).Msg("closing")
		m.notify(StateChange{Conversation: id, State: StateClosing, Code: code, Local: true})
		c.sendClose(code, reason)
		go c.awaitClose(m.closeWait)
	}
}

// Subscribe registers a listener for the conversation's inbound events.
// Listeners run in registration order. After Dispose the returned
// subscription is never registered.
func (m *Multiplexer) Subscribe(id protocol.ConversationID, listener Listener) *Subscription {
	sub := &Subscription{
		id:           uuid.New(),
		conversation: id,
		listener:     listener,
		m:            m,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		m.log.Debug().Str("conversation", string(id)).Msg("subscribe after dispose ignored")
		return sub
	}
	m.listeners[id] = append(m.listeners[id], sub)
	return sub
}

// Unsubscribe removes exactly that registration; unknown ones are ignored.
func (m *Multiplexer) Unsubscribe(id protocol.ConversationID, sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.listeners[id]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(m.listeners, id)
		return
	}
	m.listeners[id] = subs
}

// ListenerCount returns how many listeners are registered for id
func (m *Multiplexer) ListenerCount(id protocol.ConversationID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[id])
}

// WatchState registers a state listener and returns its cancel func.
// After Dispose nothing is registered.
func (m *Multiplexer) WatchState(fn StateListener) func() {
	w := &watcher{fn: fn}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return func() {}
	}
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, existing := range m.watchers {
			if existing == w {
				m.watchers = append(m.watchers[:i:i], m.watchers[i+1:]...)
				return
			}
		}
	}
}

// Send encodes and queues ev when the conversation's connection is open.
// Otherwise the event is dropped; the result only says whether it was queued.
func (m *Multiplexer) Send(id protocol.ConversationID, ev protocol.Event) bool {
	data, err := protocol.Encode(ev)
	if err != nil {
		m.log.Error().Err(err).Str("conversation", string(id)).Msg("failed to encode event")
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[id]
	if !ok || c.state != StateOpen {
		m.log.Debug().Str("conversation", string(id)).Str("type", string(ev.Kind())).Msg("not connected, event dropped")
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		m.log.Warn().Str("conversation", string(id)).Str("type", string(ev.Kind())).Msg("send buffer full, event dropped")
		return false
	}
}

// State returns the conversation's connection state
func (m *Multiplexer) State(id protocol.ConversationID) (ConnState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[id]
	if !ok {
		return StateClosed, false
	}
	return c.state, true
}

// IsOpen reports whether events can currently be sent to id
func (m *Multiplexer) IsOpen(id protocol.ConversationID) bool {
	state, _ := m.State(id)
	return state == StateOpen
}

// endpoint must be called with mu held
func (m *Multiplexer) endpoint(id protocol.ConversationID) string {
	u := m.baseURL.JoinPath("conversation", string(id))
	q := u.Query()
	q.Set("token", m.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// dispatch delivers ev to a snapshot of the conversation's listeners, so
// listeners may unsubscribe while being called.
func (m *Multiplexer) dispatch(id protocol.ConversationID, ev protocol.Event) {
	m.mu.RLock()
	subs := append([]*Subscription(nil), m.listeners[id]...)
	m.mu.RUnlock()

	for _, sub := range subs {
		m.invoke(sub, ev)
	}
}

func (m *Multiplexer) invoke(sub *Subscription, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("conversation", string(sub.conversation)).
				Str("subscription", sub.id.String()).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()

	if err := sub.listener(ev); err != nil {
		m.log.Warn().
			Err(err).
			Str("conversation", string(sub.conversation)).
			Str("subscription", sub.id.String()).
			Str("type", string(ev.Kind())).
			Msg("listener failed")
	}
}

func (m *Multiplexer) notify(change StateChange) {
	m.mu.RLock()
	watchers := append([]*watcher(nil), m.watchers...)
	m.mu.RUnlock()

	for _, w := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Interface("panic", r).Msg("state listener panicked")
				}
			}()
			w.fn(change)
		}()
	}
}
