package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchday.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), config)
	assert.Equal(t, 5, config.Realtime.MaxReconnectAttempts)
	assert.Equal(t, time.Second, config.Realtime.InitialReconnectDelay)
	assert.Equal(t, 5*time.Second, config.Realtime.MaxReconnectDelay)
	assert.Equal(t, 300*time.Millisecond, config.Realtime.DebounceDelay)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
api_base_url: https://api.example.test
push_url: wss://push.example.test/ws
event_ids: [evt-1, evt-2]
session:
  user_id: user-1
realtime:
  debounce_delay: 500ms
  ref_counted_rooms: true
relay:
  nats_url: nats://file:4222
`)
	t.Setenv("MATCHDAY_PUSH_URL", "wss://override.example.test/ws")
	t.Setenv("MATCHDAY_RECONNECT_ATTEMPTS", "3")
	t.Setenv("MATCHDAY_EVENT_IDS", "evt-9, ,evt-10")
	t.Setenv("NATS_URL", "nats://env:4222")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", config.APIBaseURL)
	assert.Equal(t, "wss://override.example.test/ws", config.PushURL)
	assert.Equal(t, []string{"evt-9", "evt-10"}, config.EventIDs)
	assert.Equal(t, "user-1", config.Session.UserID)
	assert.Equal(t, 3, config.Realtime.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, config.Realtime.DebounceDelay)
	assert.True(t, config.Realtime.RefCountedRooms)
	assert.Equal(t, "nats://env:4222", config.Relay.NATSURL)
	assert.Equal(t, "matchday.events", config.Relay.SubjectPrefix)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("MATCHDAY_RECONNECT_ATTEMPTS", "many")
	t.Setenv("MATCHDAY_DEBOUNCE_DELAY", "soon")
	t.Setenv("MATCHDAY_REFCOUNT_ROOMS", "maybe")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, config.Realtime.MaxReconnectAttempts)
	assert.Equal(t, 300*time.Millisecond, config.Realtime.DebounceDelay)
	assert.False(t, config.Realtime.RefCountedRooms)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "realtime: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, `
realtime:
  initial_reconnect_delay: 10s
  max_reconnect_delay: 1s
`))
	assert.ErrorContains(t, err, "max_reconnect_delay must be at least the initial delay")
}
