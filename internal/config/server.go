package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// RelayConfig configures the development relay server
type RelayConfig struct {
	Host   string        `toml:"host" env:"RELAY_HOST"`
	Port   int           `toml:"port" env:"RELAY_PORT"`
	Tokens []TokenConfig `toml:"tokens"`
	Log    LogConfig     `toml:"log"`
}

// TokenConfig maps a static bearer token to a user
type TokenConfig struct {
	Token    string `toml:"token"`
	UserID   int64  `toml:"user_id"`
	Username string `toml:"username"`
}

// DefaultRelay returns the default relay configuration
func DefaultRelay() *RelayConfig {
	return &RelayConfig{
		Host: "0.0.0.0",
		Port: 8000,
		Log:  LogConfig{Level: "info"},
	}
}

// Addr returns the listen address
func (c *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadRelay reads path over the relay defaults and applies environment
// overrides. An empty path skips the file.
func LoadRelay(path string) (*RelayConfig, error) {
	cfg := DefaultRelay()

	if path != "" {
		if err := readTOML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid config: port %d out of range", cfg.Port)
	}
	for i, tok := range cfg.Tokens {
		if tok.Token == "" || tok.UserID <= 0 {
			return nil, fmt.Errorf("invalid config: tokens[%d] needs a token and a positive user_id", i)
		}
	}
	if len(cfg.Tokens) == 0 {
		return nil, errors.New("invalid config: at least one [[tokens]] entry is required")
	}
	return cfg, nil
}
