package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"none", zerolog.Disabled},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")

	log, closer, err := New(Options{Level: "info", File: path})
	require.NoError(t, err)
	log.Debug().Msg("hidden")
	log.Info().Str("conversation", "12").Msg("connected")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "12", entry["conversation"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewConsoleAndDisabled(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Level: "debug", Out: &buf})
	require.NoError(t, err)
	log.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")

	buf.Reset()
	log, _, err = New(Options{Level: "none", Out: &buf})
	require.NoError(t, err)
	log.Error().Msg("nothing")
	assert.Empty(t, buf.String())

	_, _, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}
