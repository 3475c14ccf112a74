package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.WS.ReconnectInterval)
	assert.Equal(t, 5, cfg.WS.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "pebble", cfg.Session.Driver)
	assert.Equal(t, "/home/tester/.chat-client/session", cfg.Session.Path)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Addr)
	assert.Empty(t, cfg.AMQP.URL)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("CHAT_API_BASE_URL", "https://chat.example.com")
	t.Setenv("CHAT_WS_MAX_RECONNECT_ATTEMPTS", "0")
	t.Setenv("CHAT_POLL_INTERVAL", "2s")
	t.Setenv("CHAT_SESSION_DRIVER", "postgres")
	t.Setenv("CHAT_SESSION_DSN", "postgres://u:p@localhost/db")
	t.Setenv("CHAT_LOG_LEVEL", "debug")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.API.BaseURL)
	assert.Equal(t, 0, cfg.WS.MaxReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "postgres", cfg.Session.Driver)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"bad driver":       {"CHAT_SESSION_DRIVER", "redis"},
		"postgres w/o dsn": {"CHAT_SESSION_DRIVER", "postgres"},
		"bad level":        {"CHAT_LOG_LEVEL", "loud"},
		"bad url":          {"CHAT_API_BASE_URL", "not a url"},
		"bad duration":     {"CHAT_POLL_INTERVAL", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger(LogConfig{Level: "nope"})
	assert.Error(t, err)
}
