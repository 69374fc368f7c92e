// Package websocket implements the network transport on top of
// github.com/coder/websocket. Envelopes travel as JSON text frames.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/transport"
)

const (
	defaultSendBuffer   = 256
	defaultEventBuffer  = 256
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

var errSendBufferFull = errors.New("send buffer full, message dropped")

// Options configures a Transport. Zero values select the defaults.
type Options struct {
	DialOptions  *websocket.DialOptions
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
	Logger       *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
	stateClosing
)

// session is one dial-to-close lifetime of the underlying socket.
type session struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	closing        chan struct{}
	cancel         context.CancelFunc
	closeRequested bool
}

// Transport is a reopenable websocket client.
type Transport struct {
	url    string
	opts   Options
	logger *slog.Logger
	events chan transport.Event

	mu      sync.Mutex
	state   state
	session *session
	// queued holds frames sent while no session was open.
	queued [][]byte
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport for url. No connection is made until Open.
func New(url string, opts Options) *Transport {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		url:    url,
		opts:   opts,
		logger: logger.With("url", url),
		events: make(chan transport.Event, defaultEventBuffer),
	}
}

func (t *Transport) URL() string                    { return t.url }
func (t *Transport) Mock() bool                     { return false }
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Open dials the broker in the background.
func (t *Transport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == stateConnecting || t.state == stateOpen {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      uuid.NewString(),
		send:    make(chan []byte, t.opts.SendBuffer),
		closing: make(chan struct{}),
		cancel:  cancel,
	}
	t.session = s
	t.state = stateConnecting

	go t.run(ctx, s)
	return nil
}

// Close starts a graceful close handshake once frames already handed to Send
// are written. Closing while dialing abandons the dial.
func (t *Transport) Close() error {
	t.mu.Lock()
	s := t.session
	if s == nil || s.closeRequested {
		t.mu.Unlock()
		return nil
	}
	s.closeRequested = true
	t.state = stateClosing
	conn := s.conn
	t.mu.Unlock()

	if conn == nil {
		s.cancel()
		return nil
	}

	close(s.closing)
	return nil
}

// Send queues env for writing. It only fails when env cannot be encoded.
func (t *Transport) Send(env transport.Envelope) error {
	frame, err := transport.EncodeEnvelope(env)
	if err != nil {
		return domain.InvalidArgument("%v", err)
	}

	t.mu.Lock()
	if t.state != stateOpen {
		t.queued = append(t.queued, frame)
		t.mu.Unlock()
		return nil
	}
	s := t.session
	select {
	case s.send <- frame:
		t.mu.Unlock()
		return nil
	default:
		t.mu.Unlock()
	}

	t.logger.Warn("WebSocket send buffer full, dropping message", "session", s.id)
	t.emit(transport.Event{
		Type:    transport.EventError,
		Session: s.id,
		Err:     &domain.TransportError{URL: t.url, Op: "write", Err: errSendBufferFull},
	})
	return nil
}

func (t *Transport) run(ctx context.Context, s *session) {
	conn, _, err := websocket.Dial(ctx, t.url, t.opts.DialOptions)
	if err != nil {
		t.finish(s, t.failure(s, "dial", err))
		return
	}
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	if s.closeRequested {
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closing")
		t.finish(s, nil)
		return
	}
	s.conn = conn
	t.state = stateOpen
	backlog := t.queued
	t.queued = nil
	t.mu.Unlock()

	t.logger.Info("WebSocket connected", "session", s.id, "queued", len(backlog))
	t.emit(transport.Event{Type: transport.EventOpen, Session: s.id})

	go t.writePump(ctx, s, backlog)
	t.readPump(ctx, s)
}

// readPump decodes inbound frames until the socket fails or closes.
func (t *Transport) readPump(ctx context.Context, s *session) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.logger.Info("WebSocket closed normally", "session", s.id)
				t.finish(s, nil)
				return
			}
			t.finish(s, t.failure(s, "read", err))
			return
		}

		env, err := transport.DecodeEnvelope(data)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", "session", s.id, "error", err)
			t.emit(transport.Event{
				Type:    transport.EventError,
				Session: s.id,
				Err:     &domain.TransportError{URL: t.url, Op: "decode", Err: err},
			})
			continue
		}

		t.emit(transport.Event{Type: transport.EventMessage, Session: s.id, Envelope: env})
	}
}

// writePump flushes the backlog, then writes frames from the session's send channel.
func (t *Transport) writePump(ctx context.Context, s *session, backlog [][]byte) {
	write := func(frame []byte) bool {
		wctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
		err := s.conn.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Error("WebSocket write error", "session", s.id, "error", err)
				t.emit(transport.Event{
					Type:    transport.EventError,
					Session: s.id,
					Err:     &domain.TransportError{URL: t.url, Op: "write", Err: err},
				})
				s.conn.Close(websocket.StatusInternalError, "write failed")
			}
			return false
		}
		return true
	}

	for _, frame := range backlog {
		if !write(frame) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.send:
			if !write(frame) {
				return
			}
		case <-s.closing:
			for flushed := false; !flushed; {
				select {
				case frame := <-s.send:
					if !write(frame) {
						return
					}
				default:
					flushed = true
				}
			}
			if err := s.conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
				t.logger.Debug("WebSocket close handshake did not complete", "session", s.id, "error", err)
			}
			return
		}
	}
}

// failure converts err into a TransportError unless the caller asked for the close.
func (t *Transport) failure(s *session, op string, err error) error {
	t.mu.Lock()
	requested := s.closeRequested
	t.mu.Unlock()
	if requested {
		return nil
	}
	t.logger.Error("WebSocket "+op+" failed", "session", s.id, "error", err)
	return &domain.TransportError{URL: t.url, Op: op, Err: err}
}

// finish tears down s and reports the close. Frames still buffered on the
// session are returned to the queue so they go out on the next session.
func (t *Transport) finish(s *session, err error) {
	s.cancel()

	t.mu.Lock()
	if t.session == s {
		t.session = nil
		t.state = stateIdle
	}
	for drained := false; !drained; {
		select {
		case frame := <-s.send:
			t.queued = append(t.queued, frame)
		default:
			drained = true
		}
	}
	t.mu.Unlock()

	if err != nil {
		t.emit(transport.Event{Type: transport.EventError, Session: s.id, Err: err})
	}
	t.emit(transport.Event{Type: transport.EventClose, Session: s.id, Err: err})
}

func (t *Transport) emit(ev transport.Event) {
	t.events <- ev
}
