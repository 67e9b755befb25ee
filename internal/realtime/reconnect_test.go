package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/chatsync/internal/protocol"
)

func TestReconnectStrategyDelays(t *testing.T) {
	rs := DefaultReconnectStrategy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 6 * time.Second},
		{2, 12 * time.Second},
		{3, 24 * time.Second},
		{4, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rs.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.True(t, rs.ShouldRetry(4))
	assert.False(t, rs.ShouldRetry(5))
}

type fakeConnector struct {
	mu       sync.Mutex
	watch    StateListener
	connects []protocol.ConversationID
	left     map[protocol.ConversationID]bool
}

func (f *fakeConnector) Connect(id protocol.ConversationID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, id)
	return nil
}

func (f *fakeConnector) WatchState(fn StateListener) func() {
	f.watch = fn
	return func() { f.watch = nil }
}

func (f *fakeConnector) ListenerCount(id protocol.ConversationID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.left[id] {
		return 0
	}
	return 1
}

func (f *fakeConnector) leave(id protocol.ConversationID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.left == nil {
		f.left = make(map[protocol.ConversationID]bool)
	}
	f.left[id] = true
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func fastStrategy() *ReconnectStrategy {
	return &ReconnectStrategy{
		MaxRetries:    2,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestReconnectorRetriesAbnormalClose(t *testing.T) {
	fc := &fakeConnector{}
	r := NewReconnector(fc, fastStrategy(), zerolog.Nop())
	defer r.Close()

	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseAbnormal})
	require.Eventually(t, func() bool { return fc.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, r.Attempts("1"))

	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseAbnormal})
	require.Eventually(t, func() bool { return fc.count() == 2 }, time.Second, time.Millisecond)

	// retries exhausted
	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseAbnormal})
	assert.Never(t, func() bool { return fc.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, r.Attempts("1"))
}

func TestReconnectorSkipsRequestedCloses(t *testing.T) {
	fc := &fakeConnector{}
	r := NewReconnector(fc, fastStrategy(), zerolog.Nop())
	defer r.Close()

	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseNormal})
	fc.watch(StateChange{Conversation: "2", State: StateClosed, Code: protocol.CloseGoingAway, Local: true})

	assert.Never(t, func() bool { return fc.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestReconnectorOpenResetsAttempts(t *testing.T) {
	fc := &fakeConnector{}
	strategy := fastStrategy()
	strategy.InitialDelay = time.Hour
	r := NewReconnector(fc, strategy, zerolog.Nop())

	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseAbnormal})
	assert.Equal(t, 1, r.Attempts("1"))

	fc.watch(StateChange{Conversation: "1", State: StateOpen})
	assert.Equal(t, 0, r.Attempts("1"))

	fc.watch(StateChange{Conversation: "2", State: StateClosed, Code: protocol.CloseAbnormal})
	r.Forget("2")
	assert.Equal(t, 0, r.Attempts("2"))

	r.Close()
	assert.Nil(t, fc.watch)
	assert.Zero(t, fc.count())
}

func TestReconnectorAbandonsConversationWithoutListeners(t *testing.T) {
	fc := &fakeConnector{}
	r := NewReconnector(fc, fastStrategy(), zerolog.Nop())
	defer r.Close()

	fc.watch(StateChange{Conversation: "1", State: StateClosed, Code: protocol.CloseAbnormal})
	assert.Equal(t, 1, r.Attempts("1"))
	fc.leave("1")

	assert.Never(t, func() bool { return fc.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, r.Attempts("1"))
}

func TestReconnectDoesNotReopenConversationLeftAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	m, _ := newOpenMultiplexer(t, ts)
	strategy := fastStrategy()
	strategy.InitialDelay = 50 * time.Millisecond
	r := NewReconnector(m, strategy, zerolog.Nop())
	defer r.Close()

	sub := m.Subscribe("A", func(protocol.Event) error { return nil })
	require.NoError(t, m.Connect("A"))
	p := ts.nextPeer(t)
	require.Eventually(t, func() bool { return m.IsOpen("A") }, waitFor, tick)

	p.ws.UnderlyingConn().Close()
	require.Eventually(t, func() bool { return r.Attempts("A") == 1 }, waitFor, tick)

	// switching away: the entry is already gone, so only the listener goes
	m.Disconnect("A", protocol.CloseNormal, "Switching conversations")
	m.Unsubscribe("A", sub)
	m.Subscribe("B", func(protocol.Event) error { return nil })
	require.NoError(t, m.Connect("B"))
	ts.nextPeer(t)
	require.Eventually(t, func() bool { return m.IsOpen("B") }, waitFor, tick)

	assert.Never(t, func() bool {
		_, exists := m.State("A")
		return exists
	}, 300*time.Millisecond, tick)
	assert.Equal(t, int32(2), ts.upgrades.Load())
	assert.Equal(t, 0, r.Attempts("A"))
}
