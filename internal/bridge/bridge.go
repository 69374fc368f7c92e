// Package bridge connects a broker Connection to the in-process event bus.
// Lifecycle changes are published as typed events, selected broker topics are
// forwarded onto bus topics, and messages published on the outbound topic are
// sent to the broker.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/listeners"
	"github.com/nfrund/brokerlink/internal/pubsub"
	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/topics"
)

// ConnectionEvent is the payload of the lifecycle events.
type ConnectionEvent struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OutboundMessage asks the bridge to send an envelope to the broker. An empty
// URL addresses every bridged connection.
type OutboundMessage struct {
	URL      string            `json:"url,omitempty"`
	Topics   topics.Descriptor `json:"topics"`
	Contents json.RawMessage   `json:"contents,omitempty"`
}

// Bus topics used by the bridge.
var (
	ConnectionOpened = pubsub.NewEvent[ConnectionEvent]("broker.connection.opened")
	ConnectionClosed = pubsub.NewEvent[ConnectionEvent]("broker.connection.closed")
	ConnectionError  = pubsub.NewEvent[ConnectionEvent]("broker.connection.error")
	Outbound         = pubsub.NewEvent[OutboundMessage]("broker.outbound")
)

// MetaKeyTopics carries the canonical broker topic of a forwarded message.
const MetaKeyTopics = "broker_topics"

// Bridge links one connection to the bus.
type Bridge struct {
	conn   *socket.Connection
	pub    pubsub.Publisher
	sub    pubsub.Subscriber
	logger *slog.Logger
	ctx    context.Context
}

// New creates a bridge. Nothing is wired until Start.
func New(conn *socket.Connection, pub pubsub.Publisher, sub pubsub.Subscriber, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		conn:   conn,
		pub:    pub,
		sub:    sub,
		logger: logger.With("url", conn.URL()),
		ctx:    context.Background(),
	}
}

// Start registers the lifecycle callbacks and subscribes to the outbound
// topic. The outbound subscription ends with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx

	b.conn.OnOpen(func() {
		b.publishLifecycle(ConnectionOpened, nil)
	})
	b.conn.OnClose(func() {
		b.publishLifecycle(ConnectionClosed, nil)
	})
	b.conn.OnError(func(err error) {
		b.publishLifecycle(ConnectionError, err)
	})

	if err := b.sub.Subscribe(ctx, Outbound.Name(), b.handleOutbound); err != nil {
		return fmt.Errorf("subscribe to %s: %w", Outbound.Name(), err)
	}
	b.logger.Debug("Bridge started")
	return nil
}

// Forward republishes every broker message addressed by topicsArg on busTopic.
// The payload is the JSON encoding of the message contents.
func (b *Bridge) Forward(topicsArg any, busTopic string) (listeners.Deregister, error) {
	if busTopic == "" {
		return nil, domain.InvalidArgument("bus topic is required")
	}
	desc, err := topics.From(topicsArg)
	if err != nil {
		return nil, err
	}
	canonical := topics.Encode(desc)

	return b.conn.OnMessage(desc, func(contents any) {
		payload, err := json.Marshal(contents)
		if err != nil {
			b.logger.Error("Cannot forward broker message", "topic", canonical, "error", err)
			return
		}
		msg := pubsub.Message{
			Topic:    busTopic,
			Source:   b.conn.URL(),
			Payload:  payload,
			Metadata: map[string]string{MetaKeyTopics: canonical},
		}
		if err := b.pub.Publish(b.ctx, msg); err != nil {
			b.logger.Error("Failed to publish broker message", "topic", canonical, "bus_topic", busTopic, "error", err)
		}
	})
}

func (b *Bridge) publishLifecycle(event pubsub.Event[ConnectionEvent], cause error) {
	payload := ConnectionEvent{URL: b.conn.URL(), Status: b.conn.Status().String()}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := pubsub.Publish(b.ctx, b.pub, event, b.conn.URL(), payload); err != nil {
		b.logger.Error("Failed to publish lifecycle event", "event", event.Name(), "error", err)
	}
}

func (b *Bridge) handleOutbound(_ context.Context, msg pubsub.Message) error {
	out, err := pubsub.Decode(Outbound, msg)
	if err != nil {
		return err
	}
	if out.URL != "" && out.URL != b.conn.URL() {
		return nil
	}

	var contents map[string]any
	if len(out.Contents) > 0 && string(out.Contents) != "null" {
		if err := json.Unmarshal(out.Contents, &contents); err != nil {
			return errors.Join(domain.InvalidArgument("outbound contents must be a JSON object"), err)
		}
	}

	if _, err := b.conn.SendMessage(out.Topics, contents, nil, nil); err != nil {
		return fmt.Errorf("send outbound message: %w", err)
	}
	return nil
}
