package registry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/registry"
	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/transport"
	"github.com/nfrund/brokerlink/internal/transport/scripted"
)

func newRegistry(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	opts = append([]registry.Option{registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	r := registry.New(context.Background(), opts...)
	t.Cleanup(r.Reset)
	return r
}

func TestAcquire_OneConnectionPerURL(t *testing.T) {
	r := newRegistry(t)

	a, err := r.Acquire("ws://localhost:8085")
	require.NoError(t, err)
	b, err := r.Acquire("ws://localhost:8085")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.False(t, a.IsMock())

	// Config forms resolve to the same entry.
	c, err := r.Acquire(map[string]any{"url": "ws://localhost:8085", "mock": true})
	require.NoError(t, err)
	assert.Same(t, a, c)
	d, err := r.Acquire(&registry.Config{URL: "ws://localhost:8085"})
	require.NoError(t, err)
	assert.Same(t, a, d)

	other, err := r.Acquire(registry.Config{URL: "ws://localhost:9000", Mock: &registry.MockConfig{}})
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.True(t, other.IsMock())

	assert.True(t, r.Has("ws://localhost:9000"))
	assert.False(t, r.Has("ws://elsewhere"))
	got, ok := r.Get("ws://localhost:8085")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"ws://localhost:8085", "ws://localhost:9000"}, r.URLs())
}

func TestAcquire_ConfigurationErrors(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name   string
		target any
	}{
		{name: "number", target: 42},
		{name: "nil", target: nil},
		{name: "empty url", target: ""},
		{name: "nil config pointer", target: (*registry.Config)(nil)},
		{name: "mapping without url", target: map[string]any{"mock": true}},
		{name: "mapping with non-string url", target: map[string]any{"url": 5}},
		{name: "mock of the wrong type", target: map[string]any{"url": "ws://x", "mock": "yes"}},
		{name: "bad mock timing", target: map[string]any{"url": "ws://x", "mock": map[string]any{"openTimeout": "soon"}}},
		{name: "negative mock timing", target: map[string]any{"url": "ws://x", "mock": map[string]any{"closeTimeout": -1}}},
		{name: "missing replay script", target: map[string]any{"url": "ws://x", "mock": map[string]any{"script": "nope.jsonl"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Acquire(tt.target)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Nil(t, c)
		})
	}
	assert.Empty(t, r.URLs(), "failed acquisitions register nothing")
}

func TestAcquire_MockMapping(t *testing.T) {
	var got registry.Config
	r := newRegistry(t, registry.WithTransportFactory(func(cfg registry.Config) (transport.Transport, error) {
		got = cfg
		return scripted.New(cfg.URL, scripted.Config{}), nil
	}))

	_, err := r.Acquire(map[string]any{
		"url": "ws://mock",
		"mock": map[string]any{
			"openTimeout":     5,
			"closeTimeout":    2.5,
			"messageInterval": int64(1),
			"noLoopback":      true,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Mock)
	assert.Equal(t, 5*time.Millisecond, got.Mock.OpenTimeout)
	assert.Equal(t, 2500*time.Microsecond, got.Mock.CloseTimeout)
	assert.Equal(t, time.Millisecond, got.Mock.MessageInterval)
	assert.True(t, got.Mock.NoLoopback)
}

func TestAcquire_FactoryError(t *testing.T) {
	boom := errors.New("no transport")
	r := newRegistry(t, registry.WithTransportFactory(func(registry.Config) (transport.Transport, error) {
		return nil, boom
	}))

	_, err := r.Acquire("ws://x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Has("ws://x"))
}

func TestAcquire_ReplayScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/scripts/hello.jsonl",
		[]byte(`{"topics":{"type":"hello"},"contents":{"n":1}}`), 0o644))

	r := newRegistry(t, registry.WithFs(fs))
	c, err := r.Acquire(map[string]any{"url": "ws://mock", "mock": map[string]any{"script": "/scripts/hello.jsonl"}})
	require.NoError(t, err)

	got := make(chan any, 1)
	_, err = c.OnMessage(map[string]any{"type": "hello"}, func(contents any) { got <- contents })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Open().Wait(ctx))

	select {
	case contents := <-got:
		assert.Equal(t, map[string]any{"n": 1.0}, contents)
	case <-ctx.Done():
		t.Fatal("scripted message was not delivered")
	}
}

func TestRegister(t *testing.T) {
	r := newRegistry(t)
	conn := socket.New(context.Background(), scripted.New("ws://manual", scripted.Config{}))

	require.NoError(t, r.Register("ws://manual", conn))
	assert.ErrorIs(t, r.Register("ws://manual", conn), domain.ErrConfiguration)
	assert.ErrorIs(t, r.Register("", conn), domain.ErrConfiguration)

	got, err := r.Acquire("ws://manual")
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestReset(t *testing.T) {
	r := newRegistry(t)
	first, err := r.Acquire(map[string]any{"url": "ws://mock", "mock": true})
	require.NoError(t, err)

	r.Reset()
	assert.Empty(t, r.URLs())

	second, err := r.Acquire(map[string]any{"url": "ws://mock", "mock": true})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestConfig_UnmarshalYAML(t *testing.T) {
	doc := `
- url: ws://plain
- url: ws://flag
  mock: true
- url: ws://off
  mock: false
- url: ws://timed
  mock:
    openTimeout: 250ms
    messageInterval: 1s
    script: replay.jsonl
- url: ws://millis
  mock:
    openTimeout: 50
    closeTimeout: 2.5
    noLoopback: true
`
	var cfgs []registry.Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfgs))
	require.Len(t, cfgs, 5)

	assert.Nil(t, cfgs[0].Mock)
	require.NotNil(t, cfgs[1].Mock)
	assert.Equal(t, registry.MockConfig{}, *cfgs[1].Mock)
	assert.Nil(t, cfgs[2].Mock)
	require.NotNil(t, cfgs[3].Mock)
	assert.Equal(t, 250*time.Millisecond, cfgs[3].Mock.OpenTimeout)
	assert.Equal(t, time.Second, cfgs[3].Mock.MessageInterval)
	assert.Equal(t, "replay.jsonl", cfgs[3].Mock.Script)

	// Bare numbers are milliseconds, as in the map form of Acquire.
	require.NotNil(t, cfgs[4].Mock)
	assert.Equal(t, registry.MockConfig{
		OpenTimeout:  50 * time.Millisecond,
		CloseTimeout: 2500 * time.Microsecond,
		NoLoopback:   true,
	}, *cfgs[4].Mock)

	var bad []registry.Config
	assert.Error(t, yaml.Unmarshal([]byte("- url: ws://x\n  mock: [1]\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte("- url: ws://x\n  mock:\n    openTimeout: -5\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte("- url: ws://x\n  mock:\n    openTimeout: soon\n"), &bad))
}
