package chat

import (
	"github.com/concord-chat/chatsync/internal/protocol"
	"github.com/concord-chat/chatsync/internal/realtime"
)

// Link is the part of the connection multiplexer a session uses.
// *realtime.Multiplexer implements it.
type Link interface {
	Connect(id protocol.ConversationID) error
	Disconnect(id protocol.ConversationID, code protocol.CloseCode, reason string)
	Subscribe(id protocol.ConversationID, listener realtime.Listener) *realtime.Subscription
	Unsubscribe(id protocol.ConversationID, sub *realtime.Subscription)
	WatchState(fn realtime.StateListener) func()
	Send(id protocol.ConversationID, ev protocol.Event) bool
	IsOpen(id protocol.ConversationID) bool
}

var _ Link = (*realtime.Multiplexer)(nil)
