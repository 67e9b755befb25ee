package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
theme = "solarized-light"

[server]
base_url = "https://chat.example.com/ws"
api_url = "https://chat.example.com/api"
token = "file-token"

[user]
id = 7
name = "ana"

[realtime]
heartbeat_interval = "15s"
reconnect = true

[chat]
typing_timeout = "2500ms"
outbox = "drop"

[[conversations]]
id = "12"
peer_id = 3
title = "bo"

[[conversations]]
id = "group-1"
title = "team"

[log]
level = "debug"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "client.toml", sample))
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/ws", cfg.Server.BaseURL)
	assert.Equal(t, "file-token", cfg.Server.Token)
	assert.Equal(t, int64(7), cfg.User.ID)
	assert.Equal(t, 15*time.Second, cfg.Realtime.HeartbeatInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Realtime.HandshakeTimeout.Duration, "defaults survive")
	assert.True(t, cfg.Realtime.Reconnect)
	assert.Equal(t, 2500*time.Millisecond, cfg.Chat.TypingTimeout.Duration)
	assert.Equal(t, float64(100), cfg.Chat.NearBottomThreshold)
	assert.Equal(t, "drop", cfg.Chat.Outbox)
	require.Len(t, cfg.Conversations, 2)
	assert.Equal(t, ConversationConfig{ID: "12", PeerID: 3, Title: "bo"}, cfg.Conversations[0])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "solarized-light", cfg.Theme)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_TOKEN", "env-token")
	t.Setenv("CHATSYNC_USER_ID", "9")
	t.Setenv("CHATSYNC_TYPING_TIMEOUT", "1s")
	t.Setenv("CHATSYNC_LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, "client.toml", sample))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Server.Token)
	assert.Equal(t, int64(9), cfg.User.ID)
	assert.Equal(t, time.Second, cfg.Chat.TypingTimeout.Duration)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "https://chat.example.com/ws", cfg.Server.BaseURL)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("CHATSYNC_USER_ID", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.BaseURL, cfg.Server.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingTimeout.Duration)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, "bad.toml", "[server\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeFile(t, "dur.toml", "[chat]\ntyping_timeout = \"soon\"\n[user]\nid = 1\n"))
	assert.Error(t, err)

	t.Setenv("CHATSYNC_USER_ID", "abc")
	_, err = Load("")
	assert.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing user", func(c *Config) { c.User.ID = 0 }, "user.id"},
		{"missing base url", func(c *Config) { c.Server.BaseURL = " " }, "server.base_url"},
		{"bad outbox", func(c *Config) { c.Chat.Outbox = "retry" }, "chat.outbox"},
		{"negative threshold", func(c *Config) { c.Chat.NearBottomThreshold = -1 }, "near_bottom_threshold"},
		{"duplicate conversation", func(c *Config) {
			c.Conversations = []ConversationConfig{{ID: "1"}, {ID: "1"}}
		}, "duplicate id"},
		{"conversation without id", func(c *Config) {
			c.Conversations = []ConversationConfig{{Title: "x"}}
		}, "conversations[0].id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.User.ID = 1
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")
	cfg := Default()
	cfg.User.ID = 4
	cfg.Conversations = []ConversationConfig{{ID: "1", PeerID: 2, Title: "x"}}

	require.NoError(t, Save(path, cfg))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadRelay(t *testing.T) {
	path := writeFile(t, "server.toml", `
port = 9000

[[tokens]]
token = "a"
user_id = 1
username = "ana"
`)
	cfg, err := LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	require.Len(t, cfg.Tokens, 1)

	t.Setenv("CHATSYNC_RELAY_PORT", "9100")
	cfg, err = LoadRelay(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)

	_, err = LoadRelay("")
	assert.ErrorContains(t, err, "tokens")
}
