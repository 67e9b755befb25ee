package realtime

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// ReconnectStrategy defines the reconnection behavior
type ReconnectStrategy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultReconnectStrategy returns the default reconnection strategy
func DefaultReconnectStrategy() *ReconnectStrategy {
	return &ReconnectStrategy{
		MaxRetries:    5,
		InitialDelay:  3 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// NextDelay calculates the delay for the next retry attempt
func (rs *ReconnectStrategy) NextDelay(attemptCount int) time.Duration {
	delay := float64(rs.InitialDelay) * math.Pow(rs.BackoffFactor, float64(attemptCount))
	if delay > float64(rs.MaxDelay) {
		return rs.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry determines if another retry attempt should be made
func (rs *ReconnectStrategy) ShouldRetry(attemptCount int) bool {
	return attemptCount < rs.MaxRetries
}

// Connector is the part of the Multiplexer a Reconnector drives
type Connector interface {
	Connect(id protocol.ConversationID) error
	WatchState(fn StateListener) func()
	ListenerCount(id protocol.ConversationID) int
}

// Reconnector re-opens conversations whose connection dropped without a
// normal close. Closes requested through Disconnect are never retried, and
// a conversation nobody listens to any more is abandoned when its retry
// comes due.
type Reconnector struct {
	conn     Connector
	strategy *ReconnectStrategy
	log      zerolog.Logger

	attempts map[protocol.ConversationID]int
	timers   map[protocol.ConversationID]*time.Timer
	stop     func()
	closed   bool

	mu sync.Mutex
}

// NewReconnector starts watching conn's state transitions
func NewReconnector(conn Connector, strategy *ReconnectStrategy, log zerolog.Logger) *Reconnector {
	if strategy == nil {
		strategy = DefaultReconnectStrategy()
	}
	r := &Reconnector{
		conn:     conn,
		strategy: strategy,
		log:      log.With().Str("component", "reconnector").Logger(),
		attempts: make(map[protocol.ConversationID]int),
		timers:   make(map[protocol.ConversationID]*time.Timer),
	}
	r.stop = conn.WatchState(r.onState)
	return r
}

// Attempts returns how many retries are in progress for id
func (r *Reconnector) Attempts(id protocol.ConversationID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

// Forget cancels any pending retry for id and resets its counter
func (r *Reconnector) Forget(id protocol.ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(id)
}

// Close stops watching and cancels every pending retry
func (r *Reconnector) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id := range r.timers {
		r.forgetLocked(id)
	}
	r.mu.Unlock()

	r.stop()
}

func (r *Reconnector) onState(change StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	id := change.Conversation
	switch change.State {
	case StateOpen:
		r.forgetLocked(id)

	case StateClosed:
		if change.Local || change.Code == protocol.CloseNormal {
			r.forgetLocked(id)
			return
		}

		attempt := r.attempts[id]
		if !r.strategy.ShouldRetry(attempt) {
			r.log.Warn().Str("conversation", string(id)).Int("attempts", attempt).Msg("giving up reconnecting")
			delete(r.attempts, id)
			return
		}
		r.attempts[id] = attempt + 1

		delay := r.strategy.NextDelay(attempt)
		r.log.Info().
			Str("conversation", string(id)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("scheduling reconnect")

		if t, ok := r.timers[id]; ok {
			t.Stop()
		}
		r.timers[id] = time.AfterFunc(delay, func() {
			r.mu.Lock()
			delete(r.timers, id)
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			if r.conn.ListenerCount(id) == 0 {
				r.log.Debug().Str("conversation", string(id)).Msg("conversation abandoned, not reconnecting")
				r.Forget(id)
				return
			}
			if err := r.conn.Connect(id); err != nil {
				r.log.Error().Err(err).Str("conversation", string(id)).Msg("reconnect failed")
			}
		})
	}
}

// forgetLocked must be called with mu held
func (r *Reconnector) forgetLocked(id protocol.ConversationID) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	delete(r.attempts, id)
}
