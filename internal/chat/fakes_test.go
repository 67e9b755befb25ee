package chat

import (
	"fmt"
	"sort"
	"time"

	"github.com/concord-chat/chatsync/internal/protocol"
	"github.com/concord-chat/chatsync/internal/realtime"
)

type sentEvent struct {
	conv protocol.ConversationID
	ev   protocol.Event
}

type registration struct {
	sub      *realtime.Subscription
	listener realtime.Listener
}

// fakeLink records every call a session makes
type fakeLink struct {
	open       map[protocol.ConversationID]bool
	calls      []string
	sent       []sentEvent
	regs       map[protocol.ConversationID][]registration
	watch      realtime.StateListener
	connectErr error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		open: make(map[protocol.ConversationID]bool),
		regs: make(map[protocol.ConversationID][]registration),
	}
}

func (f *fakeLink) Connect(id protocol.ConversationID) error {
	f.calls = append(f.calls, "connect:"+string(id))
	return f.connectErr
}

func (f *fakeLink) Disconnect(id protocol.ConversationID, code protocol.CloseCode, reason string) {
	f.calls = append(f.calls, fmt.Sprintf("disconnect:%s:%d", id, code))
	f.open[id] = false
}

func (f *fakeLink) Subscribe(id protocol.ConversationID, l realtime.Listener) *realtime.Subscription {
	f.calls = append(f.calls, "subscribe:"+string(id))
	sub := &realtime.Subscription{}
	f.regs[id] = append(f.regs[id], registration{sub: sub, listener: l})
	return sub
}

func (f *fakeLink) Unsubscribe(id protocol.ConversationID, sub *realtime.Subscription) {
	f.calls = append(f.calls, "unsubscribe:"+string(id))
	regs := f.regs[id]
	for i, r := range regs {
		if r.sub == sub {
			f.regs[id] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (f *fakeLink) WatchState(fn realtime.StateListener) func() {
	f.watch = fn
	return func() { f.watch = nil }
}

func (f *fakeLink) Send(id protocol.ConversationID, ev protocol.Event) bool {
	if !f.open[id] {
		return false
	}
	f.calls = append(f.calls, fmt.Sprintf("send:%s:%s", id, ev.Kind()))
	f.sent = append(f.sent, sentEvent{conv: id, ev: ev})
	return true
}

func (f *fakeLink) IsOpen(id protocol.ConversationID) bool {
	return f.open[id]
}

// setOpen opens id and reports the transition the way the multiplexer does
func (f *fakeLink) setOpen(id protocol.ConversationID) {
	f.open[id] = true
	if f.watch != nil {
		f.watch(realtime.StateChange{Conversation: id, State: realtime.StateOpen})
	}
}

func (f *fakeLink) drop(id protocol.ConversationID, code protocol.CloseCode) {
	f.open[id] = false
	if f.watch != nil {
		f.watch(realtime.StateChange{Conversation: id, State: realtime.StateClosed, Code: code})
	}
}

// deliver runs the registered listeners as a read pump would
func (f *fakeLink) deliver(id protocol.ConversationID, ev protocol.Event) {
	for _, r := range append([]registration(nil), f.regs[id]...) {
		_ = r.listener(ev)
	}
}

func (f *fakeLink) sentOf(kind protocol.Type) []sentEvent {
	var out []sentEvent
	for _, s := range f.sent {
		if s.ev.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeLink) typingEvents() []bool {
	var out []bool
	for _, s := range f.sentOf(protocol.TypeTyping) {
		out = append(out, s.ev.(protocol.Typing).IsTyping)
	}
	return out
}

func (f *fakeLink) callIndex(call string) int {
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// manualClock only moves when told to
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in deadline order
func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)

	due := make([]*manualTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fired = true
		t.fn()
	}
}

type fakeViewport struct {
	hasItems bool
	intoView int
	toEnd    int
}

func (v *fakeViewport) ScrollLastIntoView() bool {
	if !v.hasItems {
		return false
	}
	v.intoView++
	return true
}

func (v *fakeViewport) ScrollToEnd() {
	v.toEnd++
}

func (f *fakeLink) lastCallIndex(call string) int {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i] == call {
			return i
		}
	}
	return -1
}
