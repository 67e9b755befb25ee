// Package devserver is a small relay that speaks the conversation envelope
// protocol. It authenticates with static tokens and keeps history in memory.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/concord-chat/chatsync/internal/config"
	"github.com/concord-chat/chatsync/internal/protocol"
)

// Server represents the relay
type Server struct {
	config     *config.RelayConfig
	hub        *Hub
	store      *Store
	tokens     map[string]config.TokenConfig
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        zerolog.Logger
}

// New creates a relay for cfg
func New(cfg *config.RelayConfig, log zerolog.Logger) *Server {
	store := NewStore()
	tokens := make(map[string]config.TokenConfig, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t.Token] = t
	}

	return &Server{
		config: cfg,
		hub:    NewHub(store, log),
		store:  store,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// Hub returns the relay's hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the relay's routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/conversation/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /api/chats/private/{peer}", s.handleHistory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	addr := s.config.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("relay starting")
		s.log.Info().Msgf("websocket endpoint: ws://%s/ws/conversation/{id}?token=...", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down relay")
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	s.log.Info().Msg("relay stopped")
	return nil
}

func (s *Server) authenticate(r *http.Request) (config.TokenConfig, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	user, ok := s.tokens[token]
	return user, ok && token != ""
}

// handleWebSocket upgrades and joins the caller to the conversation's room.
// Unknown tokens are accepted at the HTTP level and closed with 4001 so
// clients see a close code rather than a failed handshake.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := protocol.ConversationID(r.PathValue("id"))
	user, ok := s.authenticate(r)
	if !ok {
		s.log.Warn().Str("conversation", string(id)).Msg("rejecting unknown token")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(int(protocol.CloseUnauthorized), "Unauthorized"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	c := newClient(conn, s.hub, user, id)
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// handleHistory returns the private chat between the caller and peer
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peer, err := strconv.ParseInt(r.PathValue("peer"), 10, 64)
	if err != nil || peer <= 0 {
		http.Error(w, "Invalid peer id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.Private(user.UserID, peer))
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
