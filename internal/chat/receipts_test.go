package chat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/concord-chat/chatsync/internal/models"
	"github.com/concord-chat/chatsync/internal/protocol"
)

func TestScrollMetricsNearBottom(t *testing.T) {
	tests := []struct {
		name string
		m    ScrollMetrics
		near bool
	}{
		{"at bottom", ScrollMetrics{Offset: 600, Viewport: 400, Content: 1000}, true},
		{"just inside", ScrollMetrics{Offset: 501, Viewport: 400, Content: 1000}, true},
		{"on threshold", ScrollMetrics{Offset: 500, Viewport: 400, Content: 1000}, false},
		{"at top", ScrollMetrics{Offset: 0, Viewport: 400, Content: 1000}, false},
		{"content shorter than view", ScrollMetrics{Offset: 0, Viewport: 400, Content: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReadTracker(newFakeLink(), newManualClock(), 0, zerolog.Nop())
			assert.Equal(t, tt.near, r.OnScroll(tt.m))
		})
	}
}

func TestReadTrackerCheck(t *testing.T) {
	link := newFakeLink()
	link.open["A"] = true
	clock := newManualClock()
	r := NewReadTracker(link, clock, 0, zerolog.Nop())

	tl := models.NewTimeline()
	for i := int64(1); i <= 3; i++ {
		tl.Upsert(&models.Message{ID: i, SenderID: 2, CreatedAt: clock.now.Add(time.Duration(i) * time.Second)})
	}
	fromPeer := func(m *models.Message) bool { return m.SenderID == 2 }

	id, sent := r.Check("A", tl, fromPeer)
	assert.True(t, sent)
	assert.Equal(t, int64(3), id)
	assert.Len(t, link.sentOf(protocol.TypeReadReceipt), 1)

	_, sent = r.Check("A", tl, fromPeer)
	assert.False(t, sent)
	assert.Len(t, link.sentOf(protocol.TypeReadReceipt), 1)
}
