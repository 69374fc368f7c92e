// Package registry keeps the process-wide set of broker connections, one per
// URL. A Registry is constructed once at startup and passed to whatever needs
// a connection; connections are never removed, so a closed connection is
// reused by reopening it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/transport"
	"github.com/nfrund/brokerlink/internal/transport/scripted"
	"github.com/nfrund/brokerlink/internal/transport/websocket"
)

// Factory builds the transport for a connection configuration.
type Factory func(cfg Config) (transport.Transport, error)

// Registry maps broker URLs to their shared Connection.
type Registry struct {
	ctx      context.Context
	factory  Factory
	connOpts []socket.Option
	logger   *slog.Logger
	fs       afero.Fs

	mu    sync.Mutex
	conns map[string]*socket.Connection
}

// Option configures a Registry.
type Option func(*Registry)

// WithTransportFactory replaces the default transport selection.
func WithTransportFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithConnectionOptions applies opts to every connection the registry creates.
func WithConnectionOptions(opts ...socket.Option) Option {
	return func(r *Registry) { r.connOpts = append(r.connOpts, opts...) }
}

// WithLogger sets the logger handed to connections and transports.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithFs sets the filesystem replay scripts are read from.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) { r.fs = fs }
}

// New creates an empty registry. Connection event loops live as long as ctx.
func New(ctx context.Context, opts ...Option) *Registry {
	r := &Registry{
		ctx:    ctx,
		logger: slog.Default(),
		fs:     afero.NewOsFs(),
		conns:  make(map[string]*socket.Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = r.defaultTransport
	}
	return r
}

// Has reports whether a connection is registered for url.
func (r *Registry) Has(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[url]
	return ok
}

// Get returns the connection registered for url.
func (r *Registry) Get(url string) (*socket.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[url]
	return c, ok
}

// Register stores conn under url. A URL can only be registered once.
func (r *Registry) Register(url string, conn *socket.Connection) error {
	if url == "" || conn == nil {
		return fmt.Errorf("%w: register needs a URL and a connection", domain.ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[url]; ok {
		return fmt.Errorf("%w: a connection for %s is already registered", domain.ErrConfiguration, url)
	}
	r.conns[url] = conn
	return nil
}

// Acquire returns the connection for target, creating it on first use.
// target is a URL string, a Config, a *Config, or a map[string]any with a
// "url" string and an optional "mock" entry that is either a boolean or a
// mapping of openTimeout, closeTimeout and messageInterval in milliseconds.
// Anything else fails with domain.ErrConfiguration. Every later acquisition of
// the same URL returns the same connection, whatever its mock settings.
func (r *Registry) Acquire(target any) (*socket.Connection, error) {
	cfg, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[cfg.URL]; ok {
		return c, nil
	}

	tr, err := r.factory(cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]socket.Option{socket.WithLogger(r.logger)}, r.connOpts...)
	c := socket.New(r.ctx, tr, opts...)
	r.conns[cfg.URL] = c

	r.logger.Info("Connection registered", "url", cfg.URL, "mock", tr.Mock())
	return c, nil
}

// URLs returns every registered URL in sorted order.
func (r *Registry) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	urls := make([]string, 0, len(r.conns))
	for url := range r.conns {
		urls = append(urls, url)
	}
	slices.Sort(urls)
	return urls
}

// Reset stops every connection and empties the registry. It exists for tests
// and process shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*socket.Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
}

func (r *Registry) defaultTransport(cfg Config) (transport.Transport, error) {
	if cfg.Mock == nil {
		return websocket.New(cfg.URL, websocket.Options{Logger: r.logger}), nil
	}

	m := cfg.Mock.withDefaults()
	sc := scripted.Config{
		OpenTimeout:     m.OpenTimeout,
		CloseTimeout:    m.CloseTimeout,
		MessageInterval: m.MessageInterval,
		NoLoopback:      m.NoLoopback,
	}
	if m.Script != "" {
		envs, err := scripted.LoadScript(r.fs, m.Script)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		sc.Script = envs
	}
	return scripted.New(cfg.URL, sc), nil
}

func parseTarget(target any) (Config, error) {
	var cfg Config
	switch t := target.(type) {
	case string:
		cfg = Config{URL: t}
	case Config:
		cfg = t
	case *Config:
		if t == nil {
			return Config{}, fmt.Errorf("%w: nil connection config", domain.ErrConfiguration)
		}
		cfg = *t
	case map[string]any:
		var err error
		if cfg, err = parseMapping(t); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%w: expected a URL or a connection mapping, got %T", domain.ErrConfiguration, target)
	}
	if cfg.URL == "" {
		return Config{}, fmt.Errorf("%w: connection URL is empty", domain.ErrConfiguration)
	}
	return cfg, nil
}

func parseMapping(m map[string]any) (Config, error) {
	url, ok := m["url"].(string)
	if !ok {
		return Config{}, fmt.Errorf("%w: connection mapping needs a url string", domain.ErrConfiguration)
	}
	cfg := Config{URL: url}

	switch mock := m["mock"].(type) {
	case nil:
	case bool:
		if mock {
			cfg.Mock = &MockConfig{}
		}
	case map[string]any:
		mc := &MockConfig{}
		fields := []struct {
			key string
			dst *time.Duration
		}{
			{"openTimeout", &mc.OpenTimeout},
			{"closeTimeout", &mc.CloseTimeout},
			{"messageInterval", &mc.MessageInterval},
		}
		for _, f := range fields {
			v, present := mock[f.key]
			if !present {
				continue
			}
			d, err := millis(v)
			if err != nil {
				return Config{}, fmt.Errorf("%w: mock %s: %w", domain.ErrConfiguration, f.key, err)
			}
			*f.dst = d
		}
		if script, ok := mock["script"].(string); ok {
			mc.Script = script
		}
		if noLoopback, ok := mock["noLoopback"].(bool); ok {
			mc.NoLoopback = noLoopback
		}
		cfg.Mock = mc
	default:
		return Config{}, fmt.Errorf("%w: mock must be a boolean or a mapping, got %T", domain.ErrConfiguration, mock)
	}
	return cfg, nil
}

// millis converts a millisecond count into a Duration.
func millis(v any) (time.Duration, error) {
	var ms float64
	switch n := v.(type) {
	case int:
		ms = float64(n)
	case int64:
		ms = float64(n)
	case float64:
		ms = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		ms = f
	default:
		return 0, fmt.Errorf("expected milliseconds, got %T", v)
	}
	if ms < 0 {
		return 0, fmt.Errorf("negative duration %v", ms)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
