package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHistoryLoadsPrivateChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/private/2", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":1,"sender_id":2,"content":"hi","created_at":"2024-05-01T10:00:00.5","is_read":true,"read_at":"2024-05-01T10:01:00"},
			{"id":2,"sender_id":1,"content":"yo","created_at":"2024-05-01T10:02:00Z","read_at":null}
		]`))
	}))
	defer srv.Close()

	h, err := NewHTTPHistory(srv.URL+"/api", "secret", time.Second)
	require.NoError(t, err)

	msgs, err := h.LoadHistory(context.Background(), convA)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.True(t, msgs[0].IsRead)
	assert.True(t, time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC).Equal(msgs[0].ReadAt.Time))
	assert.True(t, msgs[1].ReadAt.IsZero())
}

func TestHTTPHistoryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	h, err := NewHTTPHistory(srv.URL, "", time.Second)
	require.NoError(t, err)

	_, err = h.LoadHistory(context.Background(), convA)
	assert.ErrorContains(t, err, "unexpected status 401")

	_, err = h.LoadHistory(context.Background(), Conversation{ID: "group"})
	assert.ErrorIs(t, err, ErrNoPeer)

	_, err = NewHTTPHistory("ftp://x", "", 0)
	assert.Error(t, err)
}
