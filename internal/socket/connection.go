// Package socket implements the broker connection: one transport, one listener
// table and the lifecycle state machine around them.
//
// Every transport event is handled on the connection's event loop goroutine,
// in arrival order. Open, Close and SendMessage never block; they return a
// Pending that resolves once the operation completes.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/listeners"
	"github.com/nfrund/brokerlink/internal/transport"
)

// Status is the lifecycle state of a Connection.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusClosed
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Connection is a client connection to one broker endpoint.
type Connection struct {
	url       string
	transport transport.Transport
	table     *listeners.Table
	logger    *slog.Logger
	opts      options

	// injected carries events the connection raises itself, such as a
	// transport that refused to start.
	injected chan transport.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu             sync.Mutex
	status         Status
	closeRequested bool
	reopen         bool
	openWaiters    []*Pending
	reopenWaiters  []*Pending
	closeWaiters   []*Pending
	onOpen         []func()
	onClose        []func()
	onError        []func(error)
	attempt        int
	backoff        *backoff.ExponentialBackOff
	retry          *time.Timer
	retryGen       int
}

// New creates a Connection driving tr and starts its event loop. The loop runs
// until ctx is done or Stop is called. No session is opened until Open.
func New(ctx context.Context, tr transport.Transport, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("url", tr.URL())
	if o.prompter == nil {
		o.prompter = logPrompter{logger: logger}
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		url:       tr.URL(),
		transport: tr,
		table:     listeners.NewTable(logger),
		logger:    logger,
		opts:      o,
		injected:  make(chan transport.Event, 8),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if o.reconnect != nil {
		c.backoff = o.reconnect.newBackOff()
	}
	go c.run()
	return c
}

// URL returns the broker endpoint.
func (c *Connection) URL() string { return c.url }

// IsMock reports whether the connection runs on the scripted transport.
func (c *Connection) IsMock() bool { return c.transport.Mock() }

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the connection is open.
func (c *Connection) IsConnected() bool { return c.Status() == StatusOpen }

// OnOpen registers cb to run every time the connection opens.
func (c *Connection) OnOpen(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, cb)
}

// OnClose registers cb to run every time the connection closes.
func (c *Connection) OnClose(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, cb)
}

// OnError registers cb to receive transport failures. The error is always a
// *domain.TransportError.
func (c *Connection) OnError(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, cb)
}

// Open starts a transport session. It is a no-op while the connection is
// connecting or open. Opening while a requested close is still in flight
// reopens as soon as that close completes. The Pending resolves with nil once
// the session is open, or with domain.ErrClosed if the attempt ends in a close.
func (c *Connection) Open() *Pending {
	p := newPending()

	c.mu.Lock()
	if c.closeRequested {
		c.reopen = true
		c.reopenWaiters = append(c.reopenWaiters, p)
		c.mu.Unlock()
		return p
	}
	switch c.status {
	case StatusOpen:
		c.mu.Unlock()
		p.resolve(nil)
		return p
	case StatusConnecting:
		c.openWaiters = append(c.openWaiters, p)
		c.mu.Unlock()
		return p
	}
	c.beginLocked(p)
	c.mu.Unlock()

	c.openTransport()
	return p
}

// beginLocked moves the connection to Connecting. Callers hold c.mu.
func (c *Connection) beginLocked(waiters ...*Pending) {
	c.stopRetryLocked()
	c.status = StatusConnecting
	c.openWaiters = append(c.openWaiters, waiters...)
}

func (c *Connection) openTransport() {
	c.logger.Debug("Opening connection", "mock", c.transport.Mock())
	if err := c.transport.Open(); err != nil {
		terr := &domain.TransportError{URL: c.url, Op: "open", Err: err}
		c.inject(transport.Event{Type: transport.EventError, Err: terr})
		c.inject(transport.Event{Type: transport.EventClose, Err: terr})
	}
}

// Close requests a graceful close. The Pending resolves once the close has
// been processed. Closing a connection that is not open or connecting resolves
// immediately. Close also cancels any scheduled reconnect.
func (c *Connection) Close() *Pending {
	p := newPending()

	c.mu.Lock()
	c.stopRetryLocked()
	c.reopen = false
	abandoned := c.reopenWaiters
	c.reopenWaiters = nil

	if c.status != StatusConnecting && c.status != StatusOpen {
		c.mu.Unlock()
		resolveAll(abandoned, domain.ErrClosed)
		p.resolve(nil)
		return p
	}
	c.closeWaiters = append(c.closeWaiters, p)
	inFlight := c.closeRequested
	c.closeRequested = true
	c.mu.Unlock()

	resolveAll(abandoned, domain.ErrClosed)
	if !inFlight {
		c.logger.Debug("Closing connection")
		if err := c.transport.Close(); err != nil {
			terr := &domain.TransportError{URL: c.url, Op: "close", Err: err}
			c.inject(transport.Event{Type: transport.EventError, Err: terr})
			c.inject(transport.Event{Type: transport.EventClose, Err: terr})
		}
	}
	return p
}

// Stop closes the transport and ends the event loop. Operations still waiting
// resolve with domain.ErrClosed. The connection must not be used afterwards.
func (c *Connection) Stop() {
	c.Close()
	c.cancel()
	<-c.done

	c.mu.Lock()
	c.stopRetryLocked()
	waiting := slices.Concat(c.openWaiters, c.reopenWaiters, c.closeWaiters)
	c.openWaiters, c.reopenWaiters, c.closeWaiters = nil, nil, nil
	c.mu.Unlock()
	resolveAll(waiting, domain.ErrClosed)
}

func (c *Connection) inject(ev transport.Event) {
	select {
	case c.injected <- ev:
	case <-c.ctx.Done():
	}
}

// run is the event loop. It is the only goroutine that handles transport
// events and dispatches messages.
func (c *Connection) run() {
	defer close(c.done)
	events := c.transport.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.injected:
			c.handle(ev)
		case ev := <-events:
			c.handle(ev)
		}
	}
}

func (c *Connection) handle(ev transport.Event) {
	switch ev.Type {
	case transport.EventOpen:
		c.handleOpen(ev)
	case transport.EventClose:
		c.handleClose(ev)
	case transport.EventError:
		c.handleError(ev)
	case transport.EventMessage:
		if err := c.table.Dispatch(ev.Envelope.Topics, ev.Envelope.Contents); err != nil {
			c.logger.Debug("Dispatch completed with callback failures", "topic", ev.Envelope.Topics.String(), "error", err)
		}
	}
}

func (c *Connection) handleOpen(ev transport.Event) {
	c.mu.Lock()
	c.status = StatusOpen
	c.attempt = 0
	if c.backoff != nil {
		c.backoff.Reset()
	}
	waiters := c.openWaiters
	c.openWaiters = nil
	callbacks := slices.Clone(c.onOpen)
	c.mu.Unlock()

	c.logger.Info("Connection opened", "session", ev.Session, "mock", c.transport.Mock())
	for _, cb := range callbacks {
		c.safeCall("open", cb)
	}
	resolveAll(waiters, nil)
}

func (c *Connection) handleClose(ev transport.Event) {
	c.mu.Lock()
	requested := c.closeRequested
	c.closeRequested = false
	if ev.Err != nil {
		c.status = StatusErrored
	} else {
		c.status = StatusClosed
	}
	openWaiters, closeWaiters := c.openWaiters, c.closeWaiters
	c.openWaiters, c.closeWaiters = nil, nil
	reopen, reopenWaiters := c.reopen, c.reopenWaiters
	c.reopen, c.reopenWaiters = false, nil
	callbacks := slices.Clone(c.onClose)
	c.mu.Unlock()

	openErr := domain.ErrClosed
	if ev.Err != nil {
		openErr = fmt.Errorf("%w: %w", domain.ErrClosed, ev.Err)
		c.logger.Warn("Connection closed with error", "session", ev.Session, "error", ev.Err)
	} else {
		c.logger.Info("Connection closed", "session", ev.Session, "requested", requested)
	}
	if !requested && !reopen {
		c.afterUnexpectedClose()
	}
	for _, cb := range callbacks {
		c.safeCall("close", cb)
	}
	resolveAll(openWaiters, openErr)
	resolveAll(closeWaiters, nil)

	if reopen {
		c.mu.Lock()
		c.beginLocked(reopenWaiters...)
		c.mu.Unlock()
		c.openTransport()
	}
}

func (c *Connection) handleError(ev transport.Event) {
	err := ev.Err
	var terr *domain.TransportError
	if !errors.As(err, &terr) {
		err = &domain.TransportError{URL: c.url, Op: "transport", Err: err}
	}

	c.mu.Lock()
	callbacks := slices.Clone(c.onError)
	c.mu.Unlock()

	c.logger.Debug("Transport error", "session", ev.Session, "error", err)
	for _, cb := range callbacks {
		c.safeCall("error", func() { cb(err) })
	}
}

// afterUnexpectedClose either schedules an automatic reconnect, when one was
// configured, or offers the reconnect prompt.
func (c *Connection) afterUnexpectedClose() {
	if c.opts.reconnect != nil {
		c.scheduleReconnect()
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.promptDelay)
	message := fmt.Sprintf("Connection to %s was lost. Reconnect?", c.url)
	go func() {
		defer cancel()
		if c.opts.prompter.PromptReconnect(ctx, message) && ctx.Err() == nil {
			c.logger.Info("Reconnect accepted")
			c.Open()
		}
	}()
}

func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopRetryLocked()
	delay := c.backoff.NextBackOff()
	c.attempt++
	gen := c.retryGen
	c.logger.Info("Scheduling reconnect", "attempt", c.attempt, "delay", delay)

	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.retryGen
		c.mu.Unlock()
		if !stale {
			c.Open()
		}
	})
}

// stopRetryLocked cancels a scheduled reconnect. Callers hold c.mu.
func (c *Connection) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.retryGen++
}

func (c *Connection) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Lifecycle callback panicked", "event", event, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
