package devserver

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/concord-chat/chatsync/internal/config"
	"github.com/concord-chat/chatsync/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Size of client send buffer
	sendBufferSize = 256
)

// client is one websocket joined to one conversation
type client struct {
	id           string
	conn         *websocket.Conn
	hub          *Hub
	send         chan []byte
	user         config.TokenConfig
	conversation protocol.ConversationID
}

func newClient(conn *websocket.Conn, hub *Hub, user config.TokenConfig, id protocol.ConversationID) *client {
	return &client{
		id:           uuid.NewString(),
		conn:         conn,
		hub:          hub,
		send:         make(chan []byte, sendBufferSize),
		user:         user,
		conversation: id,
	}
}

// readPump decodes frames and hands them to the hub
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Warn().Err(err).Str("conversation", string(c.conversation)).Msg("websocket error")
			}
			return
		}
		// any traffic, heartbeats included, keeps the connection alive
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := protocol.Decode(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrMissingType) {
				c.hub.log.Debug().Err(err).Str("conversation", string(c.conversation)).Msg("failed to parse frame")
			}
			c.hub.sendError(c, "Invalid JSON")
			continue
		}
		if _, ok := ev.(protocol.Heartbeat); ok {
			continue
		}

		select {
		case c.hub.inbound <- inbound{client: c, ev: ev}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump writes hub output and pings to the websocket
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.log.Warn().Err(err).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// encodeError builds the typeless error frame clients receive for bad input
func encodeError(text string) ([]byte, error) {
	return json.Marshal(protocol.ServerError{Error: text})
}
