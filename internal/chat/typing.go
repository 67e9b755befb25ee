package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// DefaultTypingTimeout is how long a typing announcement lasts without keystrokes
const DefaultTypingTimeout = 3000 * time.Millisecond

// TypingState is the local user's presence state in the active conversation
type TypingState int

const (
	TypingIdle TypingState = iota
	TypingAnnouncing
)

func (s TypingState) String() string {
	if s == TypingAnnouncing {
		return "Announcing"
	}
	return "Idle"
}

// TypingController turns keystrokes into typing start/stop events. One start
// is sent per announcing run; the run ends on inactivity or an explicit Stop.
type TypingController struct {
	link    Link
	clock   Clock
	loop    *Loop
	timeout time.Duration
	log     zerolog.Logger

	conv  protocol.ConversationID
	state TypingState
	timer Timer
	gen   uint64

	onTimeout func()
}

// NewTypingController creates an idle controller
func NewTypingController(link Link, clock Clock, loop *Loop, timeout time.Duration, log zerolog.Logger) *TypingController {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingController{
		link:    link,
		clock:   clock,
		loop:    loop,
		timeout: timeout,
		log:     log,
	}
}

// Attach points the controller at conv, silently dropping any current run
func (t *TypingController) Attach(conv protocol.ConversationID) {
	t.Reset()
	t.conv = conv
}

// OnTimeout sets the callback run after a run ends on inactivity
func (t *TypingController) OnTimeout(fn func()) {
	t.onTimeout = fn
}

// State returns the current state
func (t *TypingController) State() TypingState {
	return t.state
}

// Keystroke signals local typing activity
func (t *TypingController) Keystroke() {
	if t.conv == "" {
		return
	}

	switch t.state {
	case TypingIdle:
		if !t.link.IsOpen(t.conv) {
			return
		}
		if !t.link.Send(t.conv, protocol.Typing{IsTyping: true}) {
			return
		}
		t.state = TypingAnnouncing
		t.log.Debug().Str("conversation", string(t.conv)).Msg("typing started")
		t.arm()
	case TypingAnnouncing:
		t.arm()
	}
}

// Stop ends the current run. The stop event is only sent while the
// connection is open.
func (t *TypingController) Stop() {
	if t.state != TypingAnnouncing {
		return
	}
	t.cancel()
	t.state = TypingIdle

	if t.link.IsOpen(t.conv) {
		t.link.Send(t.conv, protocol.Typing{IsTyping: false})
	}
	t.log.Debug().Str("conversation", string(t.conv)).Msg("typing stopped")
}

// Reset forces Idle without sending anything
func (t *TypingController) Reset() {
	t.cancel()
	t.state = TypingIdle
}

func (t *TypingController) arm() {
	t.cancel()
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.timeout, func() {
		t.loop.Post(func() {
			if t.gen != gen || t.state != TypingAnnouncing {
				return
			}
			t.Stop()
			if t.onTimeout != nil {
				t.onTimeout()
			}
		})
	})
}

func (t *TypingController) cancel() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
