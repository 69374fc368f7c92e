// Package app assembles the process-wide services once at start-up.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"

	"github.com/nfrund/brokerlink/internal/bridge"
	"github.com/nfrund/brokerlink/internal/config"
	"github.com/nfrund/brokerlink/internal/pubsub"
	"github.com/nfrund/brokerlink/internal/registry"
	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/topics"
)

// App owns the injector and everything it created.
type App struct {
	injector *do.RootScope
	ctx      context.Context
	cancel   context.CancelFunc
	tracing  func()
	bridges  []*bridge.Bridge
}

// Option customises New.
type Option func(*settings)

type settings struct {
	fs       afero.Fs
	factory  registry.Factory
	tracing  pubsub.TracingConfig
	connOpts []socket.Option
}

// WithFs reads connection and script files from fs instead of the OS.
func WithFs(fs afero.Fs) Option {
	return func(s *settings) { s.fs = fs }
}

// WithTransportFactory replaces how the registry builds transports.
func WithTransportFactory(f registry.Factory) Option {
	return func(s *settings) { s.factory = f }
}

// WithConnectionOptions adds options to every connection the registry creates.
func WithConnectionOptions(opts ...socket.Option) Option {
	return func(s *settings) { s.connOpts = append(s.connOpts, opts...) }
}

// WithTracing overrides the tracing configuration read from the environment.
func WithTracing(cfg pubsub.TracingConfig) Option {
	return func(s *settings) { s.tracing = cfg }
}

// New wires the services for cfg. Nothing connects until Connect.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := settings{fs: afero.NewOsFs(), tracing: pubsub.LoadTracingConfigFromEnv()}
	for _, opt := range opts {
		opt(&s)
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{injector: do.New(), ctx: ctx, cancel: cancel, tracing: func() {}}

	do.ProvideValue(a.injector, cfg)
	do.ProvideValue(a.injector, logger)
	do.ProvideValue(a.injector, s.fs)
	do.ProvideValue(a.injector, topics.Default())

	do.Provide(a.injector, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		if !s.tracing.Enabled {
			return pubsub.NewWatermillBridge(), nil
		}
		tracer, cleanup, err := pubsub.SetupOTel(ctx, s.tracing)
		if err != nil {
			return nil, err
		}
		a.tracing = cleanup
		return pubsub.NewWatermillBridgeWithTracer(tracer), nil
	})

	do.Provide(a.injector, func(i do.Injector) (*registry.Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		regOpts := []registry.Option{
			registry.WithLogger(do.MustInvoke[*slog.Logger](i)),
			registry.WithFs(do.MustInvoke[afero.Fs](i)),
		}
		connOpts := s.connOpts
		if cfg.Reconnect {
			connOpts = append(connOpts, socket.WithAutoReconnect(cfg.ReconnectMin, cfg.ReconnectMax))
		}
		if len(connOpts) > 0 {
			regOpts = append(regOpts, registry.WithConnectionOptions(connOpts...))
		}
		if s.factory != nil {
			regOpts = append(regOpts, registry.WithTransportFactory(s.factory))
		}
		return registry.New(ctx, regOpts...), nil
	})

	if _, err := do.Invoke[*pubsub.WatermillBridge](a.injector); err != nil {
		cancel()
		return nil, fmt.Errorf("start event bus: %w", err)
	}
	return a, nil
}

// Dependencies resolves the core services.
func (a *App) Dependencies() Dependencies {
	return Dependencies{
		Config:   do.MustInvoke[*config.Config](a.injector),
		Logger:   do.MustInvoke[*slog.Logger](a.injector),
		Registry: do.MustInvoke[*registry.Registry](a.injector),
		Bus:      do.MustInvoke[*pubsub.WatermillBridge](a.injector),
		Catalog:  do.MustInvoke[*topics.Catalog](a.injector),
	}
}

// Primary acquires the connection for the configured broker URL.
func (a *App) Primary() (*socket.Connection, error) {
	deps := a.Dependencies()
	if conn, ok := deps.Registry.Get(deps.Config.BrokerURL); ok {
		return conn, nil
	}
	target := registry.Config{URL: deps.Config.BrokerURL}
	if deps.Config.Mock {
		target.Mock = &registry.MockConfig{}
	}
	return deps.Registry.Acquire(target)
}

// Connect acquires every configured connection, bridges it to the bus and
// opens it. It returns the connections in configuration order.
func (a *App) Connect() ([]*socket.Connection, error) {
	deps := a.Dependencies()
	targets, err := deps.Config.Connections(do.MustInvoke[afero.Fs](a.injector))
	if err != nil {
		return nil, err
	}

	conns := make([]*socket.Connection, 0, len(targets))
	for _, target := range targets {
		conn, err := deps.Registry.Acquire(target)
		if err != nil {
			return nil, err
		}
		b := bridge.New(conn, deps.Bus, deps.Bus, deps.Logger)
		if err := b.Start(a.ctx); err != nil {
			return nil, err
		}
		a.bridges = append(a.bridges, b)
		conn.Open()
		conns = append(conns, conn)
	}
	return conns, nil
}

// Bridges returns the bridges started by Connect.
func (a *App) Bridges() []*bridge.Bridge {
	return a.bridges
}

// Shutdown stops every connection, the bus and tracing.
func (a *App) Shutdown() {
	deps := a.Dependencies()
	deps.Registry.Reset()
	a.cancel()
	if err := deps.Bus.Close(); err != nil {
		deps.Logger.Warn("Event bus close failed", "error", err)
	}
	a.tracing()
	a.injector.Shutdown()
}
