package devserver_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/chatsync/internal/chat"
	"github.com/concord-chat/chatsync/internal/config"
	"github.com/concord-chat/chatsync/internal/devserver"
	"github.com/concord-chat/chatsync/internal/protocol"
	"github.com/concord-chat/chatsync/internal/realtime"
)

// peer is one user's client stack running against the relay
type peer struct {
	mux     *realtime.Multiplexer
	loop    *chat.Loop
	session *chat.Session
}

func newPeer(t *testing.T, ts *httptest.Server, tok config.TokenConfig) *peer {
	t.Helper()

	mux := realtime.New(realtime.WithHeartbeat(0), realtime.WithCloseWait(time.Second))
	require.NoError(t, mux.Init(ts.URL+"/ws", tok.Token))

	history, err := chat.NewHTTPHistory(ts.URL+"/api", tok.Token, time.Second)
	require.NoError(t, err)

	loop := chat.NewLoop()
	session := chat.NewSession(mux, loop, chat.Config{
		SelfID:   tok.UserID,
		SelfName: tok.Username,
		History:  history,
		Logger:   zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx, nil)
	t.Cleanup(func() {
		done := make(chan struct{})
		loop.Post(func() {
			session.Close()
			close(done)
		})
		<-done
		cancel()
		mux.Dispose()
	})
	return &peer{mux: mux, loop: loop, session: session}
}

func (p *peer) do(fn func(s *chat.Session)) {
	done := make(chan struct{})
	p.loop.Post(func() {
		fn(p.session)
		close(done)
	})
	<-done
}

func (p *peer) state() chat.State {
	var st chat.State
	p.do(func(s *chat.Session) { st = s.State() })
	return st
}

func (p *peer) eventually(t *testing.T, cond func(chat.State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(p.state()) }, 3*time.Second, 10*time.Millisecond, msg)
}

func TestSessionsTalkThroughRelay(t *testing.T) {
	alice := config.TokenConfig{Token: "a", UserID: 1, Username: "alice"}
	bob := config.TokenConfig{Token: "b", UserID: 2, Username: "bob"}

	cfg := config.DefaultRelay()
	cfg.Tokens = []config.TokenConfig{alice, bob}
	srv := devserver.New(cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	a := newPeer(t, ts, alice)
	b := newPeer(t, ts, bob)

	a.do(func(s *chat.Session) { s.SelectConversation(chat.Conversation{ID: "7", PeerID: 2}) })
	b.do(func(s *chat.Session) { s.SelectConversation(chat.Conversation{ID: "7", PeerID: 1}) })
	for _, p := range []*peer{a, b} {
		p.eventually(t, func(st chat.State) bool { return st.Connection == realtime.StateOpen }, "open")
	}

	// optimistic entry replaced by the echo, read by bob, receipt back to alice
	a.do(func(s *chat.Session) { s.SendMessage("hi bob") })
	b.eventually(t, func(st chat.State) bool { return len(st.Messages) == 1 }, "bob receives")
	a.eventually(t, func(st chat.State) bool {
		return len(st.Messages) == 1 && !st.Messages[0].IsTemp && st.Messages[0].IsRead
	}, "alice sees the message read")

	msg := b.state().Messages[0]
	assert.Equal(t, int64(1), msg.SenderID)
	assert.Equal(t, "hi bob", msg.Content)
	assert.True(t, msg.IsRead)

	b.do(func(s *chat.Session) { s.StartTyping() })
	a.eventually(t, func(st chat.State) bool { return st.PeerTyping }, "peer typing")
	b.do(func(s *chat.Session) { s.StopTyping() })
	a.eventually(t, func(st chat.State) bool { return !st.PeerTyping }, "peer stopped")

	// switching away closes the old connection normally
	a.do(func(s *chat.Session) { s.SelectConversation(chat.Conversation{ID: "8", PeerID: 2}) })
	require.Eventually(t, func() bool {
		return srv.Hub().Online("7") == 1 && srv.Hub().Online("8") == 1
	}, 3*time.Second, 10*time.Millisecond)
	_, stillThere := a.mux.State("7")
	assert.False(t, stillThere)

	// history for the private chat comes back on open
	a.eventually(t, func(st chat.State) bool {
		return st.Conversation.ID == "8" && len(st.Messages) == 1
	}, "history loaded")
	assert.Equal(t, protocol.ConversationID("8"), a.state().Conversation.ID)
}
