package chat

import (
	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/models"
	"github.com/concord-chat/chatsync/internal/protocol"
)

// DefaultNearBottomThreshold is the distance from the bottom edge, in
// viewport units, below which the user is considered to see the newest messages
const DefaultNearBottomThreshold = 100

// ScrollMetrics describes the message view's scroll position
type ScrollMetrics struct {
	Offset   float64 // distance scrolled from the top
	Viewport float64 // visible height
	Content  float64 // total content height
}

// DistanceFromBottom returns how far the viewport's bottom edge is from the end
func (m ScrollMetrics) DistanceFromBottom() float64 {
	return m.Content - m.Offset - m.Viewport
}

// ReadTracker marks visible peer messages read and sends one receipt for the
// newest of them.
type ReadTracker struct {
	link      Link
	clock     Clock
	threshold float64
	log       zerolog.Logger

	nearBottom bool
}

// NewReadTracker creates a tracker that assumes the view starts at the bottom
func NewReadTracker(link Link, clock Clock, threshold float64, log zerolog.Logger) *ReadTracker {
	if threshold <= 0 {
		threshold = DefaultNearBottomThreshold
	}
	return &ReadTracker{
		link:       link,
		clock:      clock,
		threshold:  threshold,
		log:        log,
		nearBottom: true,
	}
}

// NearBottom reports the last computed proximity
func (r *ReadTracker) NearBottom() bool {
	return r.nearBottom
}

// OnScroll recomputes proximity and returns it
func (r *ReadTracker) OnScroll(m ScrollMetrics) bool {
	r.nearBottom = m.DistanceFromBottom() < r.threshold
	return r.nearBottom
}

// Reset forgets the scroll position
func (r *ReadTracker) Reset() {
	r.nearBottom = true
}

// Check marks every unread message matching isPeer as read and sends a
// receipt for the most recent one. Nothing happens unless the view is near
// the bottom and the connection is open. Returns the receipted id.
func (r *ReadTracker) Check(conv protocol.ConversationID, tl *models.Timeline, isPeer func(*models.Message) bool) (int64, bool) {
	if !r.nearBottom {
		return 0, false
	}

	unread := tl.Unread(isPeer)
	if len(unread) == 0 {
		return 0, false
	}
	if !r.link.IsOpen(conv) {
		return 0, false
	}

	now := r.clock.Now()
	for _, m := range unread {
		m.MarkRead(now)
	}

	latest := unread[len(unread)-1]
	r.link.Send(conv, protocol.ReadReceipt{MessageID: latest.ID, ReadAt: protocol.At(now)})

	r.log.Debug().
		Str("conversation", string(conv)).
		Int64("message_id", latest.ID).
		Int("count", len(unread)).
		Msg("read receipt sent")
	return latest.ID, true
}
