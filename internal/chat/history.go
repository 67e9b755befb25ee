package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/concord-chat/chatsync/internal/protocol"
)

// ErrNoPeer is returned when a conversation has no peer to load history for
var ErrNoPeer = errors.New("conversation has no peer")

// HistoryLoader fetches the backlog of a conversation
type HistoryLoader interface {
	LoadHistory(ctx context.Context, conv Conversation) ([]protocol.Message, error)
}

// HTTPHistory loads private chat history from the REST API
type HTTPHistory struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// NewHTTPHistory creates a loader for apiBase, e.g. http://localhost:8000/api
func NewHTTPHistory(apiBase, token string, timeout time.Duration) (*HTTPHistory, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: unsupported scheme %q", apiBase, u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPHistory{
		baseURL: u,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// LoadHistory implements HistoryLoader
func (h *HTTPHistory) LoadHistory(ctx context.Context, conv Conversation) ([]protocol.Message, error) {
	if conv.PeerID == 0 {
		return nil, ErrNoPeer
	}

	target := h.baseURL.JoinPath("chats", "private", strconv.FormatInt(conv.PeerID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to load history: unexpected status %d", resp.StatusCode)
	}

	var msgs []protocol.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return msgs, nil
}
