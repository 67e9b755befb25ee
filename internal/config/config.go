package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CHATSYNC_"

// Config holds the client configuration
type Config struct {
	Server        ServerConfig         `toml:"server"`
	User          UserConfig           `toml:"user"`
	Realtime      RealtimeConfig       `toml:"realtime"`
	Chat          ChatConfig           `toml:"chat"`
	Conversations []ConversationConfig `toml:"conversations"`
	Theme         string               `toml:"theme" env:"THEME"`
	ThemesDir     string               `toml:"themes_dir" env:"THEMES_DIR"`
	Log           LogConfig            `toml:"log"`
}

// ServerConfig holds server connection settings
type ServerConfig struct {
	BaseURL string `toml:"base_url" env:"BASE_URL"`
	APIURL  string `toml:"api_url" env:"API_URL"`
	Token   string `toml:"token" env:"TOKEN"`
}

// UserConfig identifies the local user
type UserConfig struct {
	ID   int64  `toml:"id" env:"USER_ID"`
	Name string `toml:"name" env:"USER_NAME"`
}

// RealtimeConfig tunes the per-conversation connections
type RealtimeConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	HandshakeTimeout  Duration `toml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	CloseWait         Duration `toml:"close_wait" env:"CLOSE_WAIT"`
	Reconnect         bool     `toml:"reconnect" env:"RECONNECT"`
}

// ChatConfig tunes the session behaviour
type ChatConfig struct {
	TypingTimeout       Duration `toml:"typing_timeout" env:"TYPING_TIMEOUT"`
	NearBottomThreshold float64  `toml:"near_bottom_threshold" env:"NEAR_BOTTOM_THRESHOLD"`
	Outbox              string   `toml:"outbox" env:"OUTBOX"` // "queue" or "drop"
	HistoryTimeout      Duration `toml:"history_timeout" env:"HISTORY_TIMEOUT"`
}

// ConversationConfig is one entry of the conversation list
type ConversationConfig struct {
	ID     string `toml:"id"`
	PeerID int64  `toml:"peer_id"`
	Title  string `toml:"title"`
}

// LogConfig selects the log level and destination
type LogConfig struct {
	Level string `toml:"level" env:"LOG_LEVEL"`
	File  string `toml:"file" env:"LOG_FILE"`
}

// Duration is a time.Duration written as "3s" in TOML and the environment
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the default client configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "ws://localhost:8000/ws",
			APIURL:  "http://localhost:8000/api",
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: Duration{30 * time.Second},
			HandshakeTimeout:  Duration{10 * time.Second},
			CloseWait:         Duration{5 * time.Second},
		},
		Chat: ChatConfig{
			TypingTimeout:       Duration{3000 * time.Millisecond},
			NearBottomThreshold: 100,
			Outbox:              "queue",
			HistoryTimeout:      Duration{10 * time.Second},
		},
		Theme: "dracula",
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPaths returns the locations searched when no file is given
func DefaultPaths() []string {
	paths := []string{
		"./chatsync.toml",
		"./config/client.toml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chatsync", "client.toml"))
	}
	return paths
}

// Find returns the first existing default path, or ""
func Find() string {
	for _, path := range DefaultPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := readTOML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the client cannot run without
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.BaseURL) == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	}
	if c.User.ID <= 0 {
		errs = append(errs, errors.New("user.id must be positive"))
	}
	switch strings.ToLower(c.Chat.Outbox) {
	case "", "queue", "drop":
	default:
		errs = append(errs, fmt.Errorf("chat.outbox must be queue or drop, got %q", c.Chat.Outbox))
	}
	if c.Chat.NearBottomThreshold < 0 {
		errs = append(errs, errors.New("chat.near_bottom_threshold must not be negative"))
	}
	if c.Realtime.HeartbeatInterval.Duration < 0 {
		errs = append(errs, errors.New("realtime.heartbeat_interval must not be negative"))
	}

	seen := make(map[string]bool)
	for i, conv := range c.Conversations {
		if conv.ID == "" {
			errs = append(errs, fmt.Errorf("conversations[%d].id is required", i))
			continue
		}
		if seen[conv.ID] {
			errs = append(errs, fmt.Errorf("conversations[%d]: duplicate id %q", i, conv.ID))
		}
		seen[conv.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes cfg to path atomically
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func readTOML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Write to temp file first (atomic write)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}
