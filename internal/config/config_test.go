package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BROKER_URL", "BROKER_MOCK", "BROKER_CONNECTIONS_FILE", "BROKER_RECONNECT",
		"BROKER_RECONNECT_MIN", "BROKER_RECONNECT_MAX", "ECHO_BROKER_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultBrokerURL, cfg.BrokerURL)
	assert.Equal(t, DefaultEchoAddr, cfg.EchoAddr)
	assert.False(t, cfg.Mock)
	assert.False(t, cfg.Reconnect)
	assert.Equal(t, DefaultReconnectMin, cfg.ReconnectMin)
	assert.Equal(t, DefaultReconnectMax, cfg.ReconnectMax)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BROKER_URL", "wss://broker.example.com/socket")
	t.Setenv("BROKER_MOCK", "true")
	t.Setenv("BROKER_RECONNECT", "1")
	t.Setenv("BROKER_RECONNECT_MIN", "100ms")
	t.Setenv("BROKER_RECONNECT_MAX", "5s")
	t.Setenv("ECHO_BROKER_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://broker.example.com/socket", cfg.BrokerURL)
	assert.True(t, cfg.Mock)
	assert.True(t, cfg.Reconnect)
	assert.Equal(t, 100*time.Millisecond, cfg.ReconnectMin)
	assert.Equal(t, 5*time.Second, cfg.ReconnectMax)
	assert.Equal(t, "127.0.0.1:9000", cfg.EchoAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "http url", env: map[string]string{"BROKER_URL": "http://localhost:8085"}},
		{name: "url without host", env: map[string]string{"BROKER_URL": "ws://"}},
		{name: "bad bool", env: map[string]string{"BROKER_MOCK": "maybe"}},
		{name: "bad duration", env: map[string]string{"BROKER_RECONNECT_MIN": "soon"}},
		{name: "max below min", env: map[string]string{"BROKER_RECONNECT_MIN": "2s", "BROKER_RECONNECT_MAX": "1s"}},
		{name: "bad listen address", env: map[string]string{"ECHO_BROKER_ADDR": "8085"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadConnections(t *testing.T) {
	fs := afero.NewMemMapFs()

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "connections.yaml", []byte(`
connections:
  - url: ws://localhost:8085
  - url: ws://bench:8085
    mock:
      openTimeout: 50ms
`), 0o644))

		conns, err := LoadConnections(fs, "connections.yaml")
		require.NoError(t, err)
		require.Len(t, conns, 2)
		assert.Nil(t, conns[0].Mock)
		require.NotNil(t, conns[1].Mock)
		assert.Equal(t, 50*time.Millisecond, conns[1].Mock.OpenTimeout)
	})

	t.Run("duplicate url", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "dup.yaml", []byte(`
connections:
  - url: ws://a:1
  - url: ws://a:1
`), 0o644))
		_, err := LoadConnections(fs, "dup.yaml")
		assert.ErrorContains(t, err, "listed twice")
	})

	t.Run("not a websocket url", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "http.yaml", []byte("connections:\n  - url: http://a:1\n"), 0o644))
		_, err := LoadConnections(fs, "http.yaml")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConnections(fs, "missing.yaml")
		assert.Error(t, err)
	})
}

func TestConfig_Connections(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "conns.yaml", []byte(`
connections:
  - url: ws://primary:8085
    mock: true
  - url: ws://secondary:8085
`), 0o644))

	cfg := &Config{BrokerURL: "ws://primary:8085", Mock: true}
	conns, err := cfg.Connections(fs)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.NotNil(t, conns[0].Mock)

	cfg.ConnectionsFile = "conns.yaml"
	conns, err = cfg.Connections(fs)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "ws://primary:8085", conns[0].URL)
	assert.Equal(t, "ws://secondary:8085", conns[1].URL)
}
