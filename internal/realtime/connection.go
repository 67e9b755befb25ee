package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/concord-chat/chatsync/internal/protocol"
)

const (
	sendBufferSize = 256
	maxMessageSize = 512 * 1024 // 512KB
	writeWait      = 10 * time.Second
)

// conn is one conversation's websocket. Fields below mu-guarded are guarded
// by the owning Multiplexer's mutex.
type conn struct {
	id protocol.ConversationID
	m  *Multiplexer

	ws *websocket.Conn // nil until the handshake completes

	send chan []byte
	done chan struct{}

	cancelDial context.CancelFunc
	finishOnce sync.Once

	// mu-guarded
	state       ConnState
	localClose  bool
	closeCode   protocol.CloseCode
	closeReason string
}

func newConn(m *Multiplexer, id protocol.ConversationID, cancel context.CancelFunc) *conn {
	return &conn{
		id:         id,
		m:          m,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		cancelDial: cancel,
		state:      StateConnecting,
	}
}

// dial performs the handshake and starts the pumps
func (c *conn) dial(ctx context.Context, target string) {
	ws, _, err := c.m.dialer.DialContext(ctx, target, nil)
	c.cancelDial()

	if err != nil {
		if c.isLocalClose() {
			c.finish(c.requestedCode(), nil)
			return
		}
		c.m.log.Warn().Err(err).Str("conversation", string(c.id)).Msg("failed to connect")
		c.finish(protocol.CloseAbnormal, fmt.Errorf("failed to connect: %w", err))
		return
	}

	c.m.mu.Lock()
	c.ws = ws
	if c.localClose {
		code, reason := c.closeCode, c.closeReason
		c.m.mu.Unlock()

		// Disconnect raced the handshake
		c.sendClose(code, reason)
		c.finish(code, nil)
		return
	}
	c.state = StateOpen
	c.m.mu.Unlock()

	c.m.log.Info().Str("conversation", string(c.id)).Msg("connected")
	c.m.notify(StateChange{Conversation: c.id, State: StateOpen})

	go c.writePump()
	go c.readPump()
}

// readPump reads frames until the socket fails or the close handshake ends
func (c *conn) readPump() {
	code := protocol.CloseAbnormal
	var cause error
	defer func() {
		c.finish(code, cause)
	}()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				code = protocol.CloseCode(closeErr.Code)
				if code == protocol.CloseAbnormal && !c.isLocalClose() {
					cause = err
				}
			case c.isLocalClose():
				code = c.requestedCode()
			default:
				cause = err
				c.m.log.Warn().Err(err).Str("conversation", string(c.id)).Msg("connection lost")
			}
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			c.m.log.Debug().Err(err).Str("conversation", string(c.id)).Msg("dropping malformed frame")
			continue
		}
		if _, ok := ev.(protocol.Heartbeat); ok {
			continue
		}

		c.m.dispatch(c.id, ev)
	}
}

// writePump writes queued frames and the periodic heartbeat
func (c *conn) writePump() {
	var tick <-chan time.Time
	if c.m.heartbeat > 0 {
		ticker := time.NewTicker(c.m.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.m.log.Warn().Err(err).Str("conversation", string(c.id)).Msg("failed to write frame")
				c.ws.Close()
				return
			}

		case <-tick:
			data, err := protocol.Encode(protocol.Heartbeat{Timestamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.ws.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}

// sendClose writes the close frame; the socket is dropped if that fails
func (c *conn) sendClose(code protocol.CloseCode, reason string) {
	msg := websocket.FormatCloseMessage(int(code), reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.ws.Close()
	}
}

// awaitClose drops the socket if the peer never answers our close frame
func (c *conn) awaitClose(wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		c.m.log.Debug().Str("conversation", string(c.id)).Msg("close handshake timed out")
		c.ws.Close()
	}
}

// finish removes the entry and reports Closed exactly once
func (c *conn) finish(code protocol.CloseCode, cause error) {
	c.finishOnce.Do(func() {
		m := c.m

		m.mu.Lock()
		if m.conns[c.id] == c {
			delete(m.conns, c.id)
		}
		c.state = StateClosed
		local := c.localClose
		ws := c.ws
		m.mu.Unlock()

		close(c.done)
		if ws != nil {
			ws.Close()
		}

		m.log.Info().
			Str("conversation", string(c.id)).
			Int("code", int(code)).
			Bool("local", local).
			Msg("disconnected")
		m.notify(StateChange{
			Conversation: c.id,
			State:        StateClosed,
			Code:         code,
			Err:          cause,
			Local:        local,
		})
	})
}

func (c *conn) isLocalClose() bool {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	return c.localClose
}

func (c *conn) requestedCode() protocol.CloseCode {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	return c.closeCode
}
