// Package scripted implements an in-process transport for tests and demos.
// It opens and closes after configurable delays, replays a script of inbound
// envelopes, and loops every sent envelope back as an inbound message, one per
// message interval. Envelopes are delivered as structured values; nothing is
// serialized.
package scripted

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/brokerlink/internal/transport"
)

// ErrNotOpen is returned by Inject when no session is open.
var ErrNotOpen = errors.New("scripted transport is not open")

// Config sets the timing and the inbound script of a Transport.
type Config struct {
	OpenTimeout     time.Duration
	CloseTimeout    time.Duration
	MessageInterval time.Duration
	// Script is delivered, in order, right after every open.
	Script []transport.Envelope
	// NoLoopback stops sent envelopes from being delivered back.
	NoLoopback bool
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
)

type session struct {
	id      string
	inbox   []transport.Envelope
	wake    chan struct{}
	done    chan struct{}
	closing bool
	failure error
}

// Transport is a scripted, in-memory transport.
type Transport struct {
	url    string
	cfg    Config
	events chan transport.Event

	mu      sync.Mutex
	state   state
	session *session
	queued  []transport.Envelope
	sent    []transport.Envelope
}

var _ transport.Transport = (*Transport)(nil)

// New creates a scripted transport that pretends to be connected to url.
func New(url string, cfg Config) *Transport {
	return &Transport{
		url:    url,
		cfg:    cfg,
		events: make(chan transport.Event, 256),
	}
}

func (t *Transport) URL() string                    { return t.url }
func (t *Transport) Mock() bool                     { return true }
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Open starts a session that reports open after OpenTimeout.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateIdle {
		return nil
	}
	s := &session{
		id:   uuid.NewString(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.inbox = append(s.inbox, t.cfg.Script...)
	t.session = s
	t.state = stateConnecting

	go t.run(s)
	return nil
}

// Close ends the current session after CloseTimeout.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLocked(nil)
	return nil
}

// Fail ends the current session abnormally with err, as a dropped network
// connection would.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLocked(err)
}

func (t *Transport) endLocked(err error) {
	s := t.session
	if s == nil || s.closing {
		return
	}
	s.closing = true
	s.failure = err
	close(s.done)
}

// Send records env and, unless loopback is disabled, delivers it back once
// open. Envelopes sent before open are held until then.
func (t *Transport) Send(env transport.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateOpen || t.session.closing {
		t.queued = append(t.queued, env)
		return nil
	}
	t.sent = append(t.sent, env)
	if !t.cfg.NoLoopback {
		t.enqueueLocked(t.session, env)
	}
	return nil
}

// Inject delivers env as if the broker had sent it.
func (t *Transport) Inject(env transport.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateOpen {
		return ErrNotOpen
	}
	t.enqueueLocked(t.session, env)
	return nil
}

// EmitError reports err without affecting the session.
func (t *Transport) EmitError(err error) {
	t.mu.Lock()
	id := ""
	if t.session != nil {
		id = t.session.id
	}
	t.mu.Unlock()
	t.events <- transport.Event{Type: transport.EventError, Session: id, Err: err}
}

// Sent returns every envelope transmitted while open, in order.
func (t *Transport) Sent() []transport.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *Transport) enqueueLocked(s *session, env transport.Envelope) {
	s.inbox = append(s.inbox, env)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) run(s *session) {
	select {
	case <-time.After(t.cfg.OpenTimeout):
	case <-s.done:
		t.shutdown(s)
		return
	}

	t.mu.Lock()
	t.state = stateOpen
	backlog := t.queued
	t.queued = nil
	t.sent = append(t.sent, backlog...)
	if !t.cfg.NoLoopback {
		s.inbox = append(s.inbox, backlog...)
	}
	t.mu.Unlock()

	t.events <- transport.Event{Type: transport.EventOpen, Session: s.id}

	for {
		env, ok := t.next(s)
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				t.shutdown(s)
				return
			}
		}

		select {
		case <-time.After(t.cfg.MessageInterval):
		case <-s.done:
			t.shutdown(s)
			return
		}
		t.events <- transport.Event{Type: transport.EventMessage, Session: s.id, Envelope: env}
	}
}

func (t *Transport) next(s *session) (transport.Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(s.inbox) == 0 {
		return transport.Envelope{}, false
	}
	env := s.inbox[0]
	s.inbox = s.inbox[1:]
	return env, true
}

func (t *Transport) shutdown(s *session) {
	if s.failure == nil {
		time.Sleep(t.cfg.CloseTimeout)
	}

	t.mu.Lock()
	if t.session == s {
		t.session = nil
		t.state = stateIdle
	}
	failure := s.failure
	t.mu.Unlock()

	if failure != nil {
		t.events <- transport.Event{Type: transport.EventError, Session: s.id, Err: failure}
	}
	t.events <- transport.Event{Type: transport.EventClose, Session: s.id, Err: failure}
}
