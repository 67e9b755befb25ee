package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/models"
	"github.com/concord-chat/chatsync/internal/protocol"
	"github.com/concord-chat/chatsync/internal/realtime"
)

// Conversation identifies what a session is showing
type Conversation struct {
	ID     protocol.ConversationID
	PeerID int64 // the other participant in a private chat, 0 for groups
	Title  string
}

// Preview is an attachment shown over the message view
type Preview struct {
	MessageID int64
	URL       string
}

// State is a copy of the session state for rendering
type State struct {
	Conversation Conversation
	Active       bool
	Messages     []*models.Message
	Typing       bool // local user is announcing
	PeerTyping   bool
	Pinned       *models.Message
	ReplyTo      *models.Message
	Preview      *Preview
	Connection   realtime.ConnState
	NearBottom   bool
	Queued       int
	LastError    string
	Revision     uint64
}

// Config holds session settings
type Config struct {
	SelfID              int64
	SelfName            string
	TypingTimeout       time.Duration
	NearBottomThreshold float64
	Outbox              OutboxPolicy
	History             HistoryLoader
	HistoryTimeout      time.Duration
	Clock               Clock
	Viewport            Viewport
	Logger              zerolog.Logger
}

// Session owns the state of the one active conversation. Every method must
// be called on the loop's goroutine; network and timer callbacks are posted
// onto the loop.
type Session struct {
	cfg   Config
	link  Link
	loop  *Loop
	clock Clock
	log   zerolog.Logger

	typing *TypingController
	reads  *ReadTracker
	scroll *ScrollCoordinator
	outbox Outbox

	conv       Conversation
	active     bool
	epoch      uint64
	sub        *realtime.Subscription
	timeline   *models.Timeline
	peerTyping bool
	pinned     int64
	replyTo    int64
	preview    *Preview
	connState  realtime.ConnState
	lastErr    string
	rev        uint64

	onChange func()
	unwatch  func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a session with no active conversation
func NewSession(link Link, loop *Loop, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 10 * time.Second
	}
	log := cfg.Logger.With().Str("component", "session").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		link:      link,
		loop:      loop,
		clock:     cfg.Clock,
		log:       log,
		typing:    NewTypingController(link, cfg.Clock, loop, cfg.TypingTimeout, log),
		reads:     NewReadTracker(link, cfg.Clock, cfg.NearBottomThreshold, log),
		scroll:    NewScrollCoordinator(loop, cfg.Viewport),
		timeline:  models.NewTimeline(),
		connState: realtime.StateClosed,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.typing.OnTimeout(s.changed)
	s.unwatch = link.WatchState(func(change realtime.StateChange) {
		loop.Post(func() { s.handleState(change) })
	})
	return s
}

// OnChange sets the callback run after every state change
func (s *Session) OnChange(fn func()) {
	s.onChange = fn
}

// SetViewport replaces the view anchored on new content
func (s *Session) SetViewport(v Viewport) {
	s.scroll.SetViewport(v)
}

// SelectConversation makes conv the active conversation. The previous one
// stops typing while its connection is still usable, is disconnected and
// has its state cleared before conv is connected. Selecting the active
// conversation again only reconnects it once its connection has closed.
func (s *Session) SelectConversation(conv Conversation) {
	if s.active && s.conv.ID == conv.ID {
		if s.connState == realtime.StateClosed {
			s.log.Info().Str("conversation", string(conv.ID)).Msg("reconnecting conversation")
			s.connect()
			s.changed()
		}
		return
	}
	if s.active {
		s.leave()
	}

	s.conv = conv
	s.active = true
	s.epoch++
	s.sub = s.link.Subscribe(conv.ID, s.listener(conv.ID, s.epoch))
	s.typing.Attach(conv.ID)

	s.log.Info().Str("conversation", string(conv.ID)).Msg("conversation selected")
	s.connect()

	s.observeScroll()
	s.changed()
}

func (s *Session) connect() {
	s.connState = realtime.StateConnecting
	if err := s.link.Connect(s.conv.ID); err != nil {
		s.log.Error().Err(err).Str("conversation", string(s.conv.ID)).Msg("failed to connect")
		s.lastErr = err.Error()
		s.connState = realtime.StateClosed
	} else if s.link.IsOpen(s.conv.ID) {
		// already connected by someone else, no Open transition will follow
		s.onOpen()
	}
}

// Close leaves the active conversation and stops watching the link
func (s *Session) Close() {
	if s.active {
		s.leave()
		s.changed()
	}
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.cancel()
}

// SendMessage sends text to the active conversation. The message shows up
// immediately as a temporary entry and is replaced once the server echoes
// it. Returns the nonce identifying the temporary entry.
func (s *Session) SendMessage(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !s.active {
		return "", false
	}

	s.typing.Stop()

	nonce := uuid.NewString()
	temp := models.NewTempMessage(s.cfg.SelfID, nonce, text, s.replyTo, s.clock.Now())
	temp.SenderName = s.cfg.SelfName
	s.timeline.Append(temp)

	ev := protocol.Message{
		Content:     text,
		MessageType: string(temp.Type),
		ReplyToID:   s.replyTo,
		Nonce:       nonce,
	}
	s.replyTo = 0

	if !s.link.IsOpen(s.conv.ID) || !s.link.Send(s.conv.ID, ev) {
		switch s.cfg.Outbox {
		case OutboxDrop:
			temp.Status = models.StatusFailed
			s.log.Warn().Str("conversation", string(s.conv.ID)).Msg("not connected, message dropped")
		default:
			temp.Status = models.StatusPending
			s.outbox.Push(ev)
			s.log.Debug().Str("conversation", string(s.conv.ID)).Int("queued", s.outbox.Len()).Msg("not connected, message queued")
		}
	}

	s.timelineChanged()
	return nonce, true
}

// StartTyping signals a keystroke
func (s *Session) StartTyping() {
	if !s.active {
		return
	}
	before := s.typing.State()
	s.typing.Keystroke()
	if s.typing.State() != before {
		s.changed()
	}
}

// StopTyping ends the local typing run
func (s *Session) StopTyping() {
	if s.typing.State() == TypingAnnouncing {
		s.typing.Stop()
		s.changed()
	}
}

// OnScroll reports a new scroll position of the message view
func (s *Session) OnScroll(m ScrollMetrics) {
	wasNear := s.reads.NearBottom()
	near := s.reads.OnScroll(m)
	if !s.active {
		return
	}

	sent := false
	if near {
		_, sent = s.reads.Check(s.conv.ID, s.timeline, s.isPeer)
	}
	if sent || near != wasNear {
		s.changed()
	}
}

// Reply sets the reply target
func (s *Session) Reply(id int64) bool {
	if s.timeline.Find(id) == nil {
		return false
	}
	s.replyTo = id
	s.observeScroll()
	s.changed()
	return true
}

// CancelReply clears the reply target
func (s *Session) CancelReply() {
	if s.replyTo == 0 {
		return
	}
	s.replyTo = 0
	s.observeScroll()
	s.changed()
}

// TogglePin pins id, or unpins it when it is already pinned
func (s *Session) TogglePin(id int64) bool {
	if s.pinned == id {
		s.pinned = 0
	} else {
		if s.timeline.Find(id) == nil {
			return false
		}
		s.pinned = id
	}
	s.observeScroll()
	s.changed()
	return true
}

// SetPreview shows an attachment preview
func (s *Session) SetPreview(p Preview) {
	s.preview = &p
	s.changed()
}

// ClearPreview hides the attachment preview
func (s *Session) ClearPreview() {
	if s.preview == nil {
		return
	}
	s.preview = nil
	s.changed()
}

// State returns a copy of the current state
func (s *Session) State() State {
	st := State{
		Conversation: s.conv,
		Active:       s.active,
		Messages:     s.timeline.Snapshot(),
		Typing:       s.typing.State() == TypingAnnouncing,
		PeerTyping:   s.peerTyping,
		Connection:   s.connState,
		NearBottom:   s.reads.NearBottom(),
		Queued:       s.outbox.Len(),
		LastError:    s.lastErr,
		Revision:     s.rev,
	}
	if m := s.timeline.Find(s.pinned); m != nil {
		st.Pinned = m.Clone()
	}
	if m := s.timeline.Find(s.replyTo); m != nil {
		st.ReplyTo = m.Clone()
	}
	if s.preview != nil {
		p := *s.preview
		st.Preview = &p
	}
	return st
}

func (s *Session) leave() {
	prev := s.conv.ID

	s.typing.Stop()
	s.link.Disconnect(prev, protocol.CloseNormal, "Switching conversations")
	if s.sub != nil {
		s.link.Unsubscribe(prev, s.sub)
		s.sub = nil
	}

	s.timeline.Clear()
	s.typing.Reset()
	s.reads.Reset()
	s.outbox.Clear()
	s.peerTyping = false
	s.pinned = 0
	s.replyTo = 0
	s.preview = nil
	s.lastErr = ""
	s.connState = realtime.StateClosed
	s.conv = Conversation{}
	s.active = false

	s.log.Info().Str("conversation", string(prev)).Msg("conversation left")
}

// listener hands inbound events to the loop, tagged with the selection
// they belong to
func (s *Session) listener(conv protocol.ConversationID, epoch uint64) realtime.Listener {
	return func(ev protocol.Event) error {
		s.loop.Post(func() {
			if !s.active || s.epoch != epoch || s.conv.ID != conv {
				return
			}
			s.handleEvent(ev)
		})
		return nil
	}
}

func (s *Session) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Message:
		if s.timeline.Upsert(models.FromEvent(e)) {
			s.timelineChanged()
		}

	case protocol.Typing:
		if e.UserID != 0 && e.UserID == s.cfg.SelfID {
			return
		}
		if s.peerTyping != e.IsTyping {
			s.peerTyping = e.IsTyping
			s.changed()
		}

	case protocol.ReadReceipt:
		s.reconcileReceipt(e)

	case protocol.StatusUpdate:
		m := s.timeline.Find(e.MessageID)
		if m == nil {
			return
		}
		if !e.DeliveredAt.IsZero() {
			m.DeliveredAt = e.DeliveredAt.Ptr()
		}
		if e.IsRead {
			m.MarkRead(s.eventTime(e.ReadAt))
		} else if e.Status != "" && !m.IsRead {
			m.Status = models.DeliveryStatus(e.Status)
		}
		s.changed()

	case protocol.MessageEdited:
		m := s.timeline.Find(e.MessageID)
		if m == nil {
			return
		}
		m.Edit(e.Content, s.eventTime(e.EditedAt))
		s.changed()

	case protocol.MessageUnsent:
		m := s.timeline.Find(e.MessageID)
		if m == nil {
			return
		}
		m.Unsend()
		s.changed()

	case protocol.MessageDeleted:
		if !s.timeline.Remove(e.MessageID) {
			return
		}
		if s.pinned == e.MessageID {
			s.pinned = 0
		}
		if s.replyTo == e.MessageID {
			s.replyTo = 0
		}
		s.timelineChanged()

	case protocol.ServerError:
		s.log.Warn().Str("conversation", string(s.conv.ID)).Str("error", e.Error).Msg("server error")
		s.lastErr = e.Error
		s.changed()

	default:
		s.log.Debug().Str("conversation", string(s.conv.ID)).Str("type", string(ev.Kind())).Msg("ignoring event")
	}
}

// reconcileReceipt applies a receipt from the peer to our own messages.
// Our own receipts echoed back change nothing; read state never reverts.
func (s *Session) reconcileReceipt(e protocol.ReadReceipt) {
	if e.ReadBy != 0 && e.ReadBy == s.cfg.SelfID {
		return
	}
	if s.timeline.MarkReadThrough(e.MessageID, s.eventTime(e.ReadAt), s.isOwn) > 0 {
		s.changed()
	}
}

func (s *Session) handleState(change realtime.StateChange) {
	if !s.active || change.Conversation != s.conv.ID {
		return
	}

	s.connState = change.State
	switch change.State {
	case realtime.StateOpen:
		s.onOpen()
	case realtime.StateClosed:
		s.peerTyping = false
		s.typing.Reset()
		switch {
		case change.Err != nil:
			s.lastErr = change.Err.Error()
		case !change.Local && change.Code != protocol.CloseNormal:
			s.lastErr = fmt.Sprintf("connection closed (%d)", change.Code)
		}
	}
	s.changed()
}

func (s *Session) onOpen() {
	s.connState = realtime.StateOpen
	s.lastErr = ""

	sent := s.outbox.Flush(func(msg protocol.Message) bool {
		return s.link.Send(s.conv.ID, msg)
	})
	for _, msg := range sent {
		if m := s.timeline.FindNonce(msg.Nonce); m != nil && m.IsTemp {
			m.Status = models.StatusSending
		}
	}
	if len(sent) > 0 {
		s.log.Debug().Str("conversation", string(s.conv.ID)).Int("count", len(sent)).Msg("outbox flushed")
	}

	s.loadHistory()
	s.checkReads()
}

func (s *Session) loadHistory() {
	if s.cfg.History == nil {
		return
	}

	conv, epoch := s.conv, s.epoch
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HistoryTimeout)
		defer cancel()

		msgs, err := s.cfg.History.LoadHistory(ctx, conv)
		s.loop.Post(func() {
			if !s.active || s.epoch != epoch {
				return
			}
			if err != nil {
				if errors.Is(err, ErrNoPeer) {
					return
				}
				s.log.Error().Err(err).Str("conversation", string(conv.ID)).Msg("failed to load history")
				s.lastErr = err.Error()
				s.changed()
				return
			}

			batch := make([]*models.Message, 0, len(msgs))
			for _, m := range msgs {
				batch = append(batch, models.FromEvent(m))
			}
			if s.timeline.Merge(batch) > 0 {
				s.timelineChanged()
			}
		})
	}()
}

func (s *Session) timelineChanged() {
	s.checkReads()
	s.observeScroll()
	s.changed()
}

func (s *Session) checkReads() {
	if s.active {
		s.reads.Check(s.conv.ID, s.timeline, s.isPeer)
	}
}

func (s *Session) observeScroll() {
	s.scroll.Observe(Anchor{
		Conversation: s.conv.ID,
		Count:        s.timeline.Len(),
		ReplyTo:      s.replyTo,
		Pinned:       s.pinned,
	})
}

func (s *Session) changed() {
	s.rev++
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) isPeer(m *models.Message) bool {
	if m.IsTemp {
		return false
	}
	if s.conv.PeerID != 0 {
		return m.SenderID == s.conv.PeerID
	}
	return m.SenderID != s.cfg.SelfID
}

func (s *Session) isOwn(m *models.Message) bool {
	return !m.IsTemp && m.SenderID == s.cfg.SelfID
}

func (s *Session) eventTime(ts protocol.Timestamp) time.Time {
	if ts.IsZero() {
		return s.clock.Now()
	}
	return ts.Time
}
