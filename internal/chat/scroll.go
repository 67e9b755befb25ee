package chat

import "github.com/concord-chat/chatsync/internal/protocol"

// Viewport is the message view being anchored
type Viewport interface {
	// ScrollLastIntoView brings the last rendered item into view and reports
	// whether there was one
	ScrollLastIntoView() bool
	ScrollToEnd()
}

// Anchor is the structural state whose changes trigger re-anchoring
type Anchor struct {
	Conversation protocol.ConversationID
	Count        int
	ReplyTo      int64
	Pinned       int64
}

// ScrollCoordinator scrolls the view to the newest content when the anchor
// changes. Scrolling runs on a later loop turn, after the view has redrawn;
// triggers arriving while one is pending are folded into it.
type ScrollCoordinator struct {
	loop     *Loop
	viewport Viewport

	last     Anchor
	observed bool
	pending  bool
	anchored int
}

// NewScrollCoordinator creates a coordinator; viewport may be nil
func NewScrollCoordinator(loop *Loop, viewport Viewport) *ScrollCoordinator {
	return &ScrollCoordinator{loop: loop, viewport: viewport}
}

// SetViewport replaces the anchored view
func (s *ScrollCoordinator) SetViewport(v Viewport) {
	s.viewport = v
}

// Observe records a, scheduling an anchor if it differs from the last one
func (s *ScrollCoordinator) Observe(a Anchor) bool {
	if s.observed && a == s.last {
		return false
	}
	s.last = a
	s.observed = true

	if s.pending {
		return true
	}
	s.pending = true
	s.loop.Post(s.anchor)
	return true
}

// Anchored returns how many times the view was anchored
func (s *ScrollCoordinator) Anchored() int {
	return s.anchored
}

func (s *ScrollCoordinator) anchor() {
	s.pending = false
	if s.viewport == nil {
		return
	}
	if !s.viewport.ScrollLastIntoView() {
		s.viewport.ScrollToEnd()
	}
	s.anchored++
}
