// Package echobroker is a loopback broker for local runs and integration
// tests. It speaks the envelope protocol over websocket: broker requests and
// subscriptions get their response topics, everything else is echoed back to
// the sender.
package echobroker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nfrund/brokerlink/internal/topics"
	"github.com/nfrund/brokerlink/internal/transport"
)

const (
	// Time allowed to write a frame to a client.
	writeWait = 10 * time.Second
	// Frames buffered per client before it is dropped.
	sendBuffer = 256
)

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Bool
}

// Broker accepts websocket connections and answers envelopes.
type Broker struct {
	logger  *slog.Logger
	catalog *topics.Catalog

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewBroker creates a broker that resolves response topics from catalog.
// A nil catalog means topics.Default().
func NewBroker(catalog *topics.Catalog, logger *slog.Logger) *Broker {
	if catalog == nil {
		catalog = topics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger:  logger,
		catalog: catalog,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Development broker: any origin may connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !b.register(c) {
		conn.Close(websocket.StatusGoingAway, "broker shutting down")
		return
	}

	go b.writePump(c)
	b.readPump(c)
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends env to every connected client.
func (b *Broker) Broadcast(env transport.Envelope) error {
	frame, err := transport.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Debug("Broadcasting envelope", "topic", topics.Encode(env.Topics), "clients", len(b.clients))
	for c := range b.clients {
		b.enqueueLocked(c, frame)
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c.conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "broker shutting down")
	}
}

func (b *Broker) register(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = struct{}{}
	b.logger.Info("Client registered", "client", c.id)
	return true
}

func (b *Broker) unregister(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		b.logger.Info("Client unregistered", "client", c.id)
	}
}

// enqueueLocked hands frame to the client's write pump. A client whose queue
// is full is dropped.
func (b *Broker) enqueueLocked(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.dropped.Store(true)
		delete(b.clients, c)
		close(c.send)
		b.logger.Warn("Client send channel full, connection dropped", "client", c.id)
	}
}

func (b *Broker) reply(c *client, env transport.Envelope) {
	frame, err := transport.EncodeEnvelope(env)
	if err != nil {
		b.logger.Error("Cannot encode reply", "client", c.id, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		b.enqueueLocked(c, frame)
	}
}

func (b *Broker) readPump(c *client) {
	defer func() {
		b.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "client disconnected")
	}()

	for {
		typ, data, err := c.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				b.logger.Info("WebSocket closed normally by client", "client", c.id)
			} else if !errors.Is(err, io.EOF) {
				b.logger.Warn("WebSocket read error", "client", c.id, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			b.logger.Warn("Ignoring non-text frame", "client", c.id)
			continue
		}

		env, err := transport.DecodeEnvelope(data)
		if err != nil {
			b.logger.Warn("Ignoring malformed envelope", "client", c.id, "error", err)
			continue
		}
		b.reply(c, b.Respond(env))
	}
}

func (b *Broker) writePump(c *client) {
	for frame := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			b.logger.Error("WebSocket write error", "client", c.id, "error", err)
			c.conn.CloseNow()
			return
		}
	}
	if c.dropped.Load() {
		c.conn.Close(websocket.StatusPolicyViolation, "send queue full")
	}
}
