package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/brokerlink/internal/bridge"
	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/pubsub"
	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/topics"
	"github.com/nfrund/brokerlink/internal/transport/scripted"
)

type fixture struct {
	conn   *socket.Connection
	tr     *scripted.Transport
	bus    *pubsub.WatermillBridge
	bridge *bridge.Bridge
	ctx    context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := scripted.New("ws://mock", scripted.Config{
		OpenTimeout:     time.Millisecond,
		CloseTimeout:    time.Millisecond,
		MessageInterval: time.Millisecond,
	})
	conn := socket.New(ctx, tr, socket.WithLogger(logger))
	t.Cleanup(conn.Stop)

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { bus.Close() })

	b := bridge.New(conn, bus, bus, logger)
	require.NoError(t, b.Start(ctx))
	return &fixture{conn: conn, tr: tr, bus: bus, bridge: b, ctx: ctx}
}

func (f *fixture) collect(t *testing.T, topic string) <-chan pubsub.Message {
	t.Helper()
	ch := make(chan pubsub.Message, 16)
	require.NoError(t, f.bus.Subscribe(f.ctx, topic, func(_ context.Context, msg pubsub.Message) error {
		ch <- msg
		return nil
	}))
	return ch
}

func receive(t *testing.T, ch <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
		return pubsub.Message{}
	}
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.conn.Open().Wait(ctx))
}

func TestBridge_LifecycleEvents(t *testing.T) {
	f := setup(t)
	opened := f.collect(t, bridge.ConnectionOpened.Name())
	closed := f.collect(t, bridge.ConnectionClosed.Name())
	failed := f.collect(t, bridge.ConnectionError.Name())

	f.open(t)
	ev, err := pubsub.Decode(bridge.ConnectionOpened, receive(t, opened))
	require.NoError(t, err)
	assert.Equal(t, bridge.ConnectionEvent{URL: "ws://mock", Status: "open"}, ev)

	f.tr.Fail(errors.New("link down"))

	ev, err = pubsub.Decode(bridge.ConnectionError, receive(t, failed))
	require.NoError(t, err)
	assert.Contains(t, ev.Error, "link down")

	ev, err = pubsub.Decode(bridge.ConnectionClosed, receive(t, closed))
	require.NoError(t, err)
	assert.Equal(t, "errored", ev.Status)
}

func TestBridge_Forward(t *testing.T) {
	f := setup(t)
	motor := f.collect(t, "app.motor")

	_, err := f.bridge.Forward(map[string]any{"type": "motor"}, "app.motor")
	require.NoError(t, err)
	f.open(t)

	_, err = f.conn.SendMessage(map[string]any{"type": "motor"}, map[string]any{"data": "test"}, nil, nil)
	require.NoError(t, err)

	msg := receive(t, motor)
	assert.JSONEq(t, `{"data":"test"}`, string(msg.Payload))
	assert.Equal(t, "ws://mock", msg.Source)
	assert.Equal(t, `{"type":"motor"}`, msg.Metadata[bridge.MetaKeyTopics])

	_, err = f.bridge.Forward("motor", "app.motor")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.bridge.Forward(map[string]any{"type": "motor"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBridge_Outbound(t *testing.T) {
	f := setup(t)
	f.open(t)

	publish := func(out bridge.OutboundMessage) {
		require.NoError(t, pubsub.Publish(f.ctx, f.bus, bridge.Outbound, "test", out))
	}

	publish(bridge.OutboundMessage{
		Topics:   topics.MustFrom(map[string]any{"type": "motor"}),
		Contents: json.RawMessage(`{"speed":3}`),
	})
	assert.Eventually(t, func() bool { return len(f.tr.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	sent := f.tr.Sent()[0]
	assert.Equal(t, `{"type":"motor"}`, topics.Encode(sent.Topics))
	assert.Equal(t, map[string]any{"speed": 3.0}, sent.Contents)

	// Addressed to another connection, or malformed: nothing is sent.
	publish(bridge.OutboundMessage{URL: "ws://elsewhere", Topics: topics.MustFrom(map[string]any{"type": "motor"})})
	publish(bridge.OutboundMessage{Topics: topics.MustFrom(map[string]any{"type": "motor"}), Contents: json.RawMessage(`[1]`)})
	publish(bridge.OutboundMessage{Topics: topics.String("motor")})
	assert.Never(t, func() bool { return len(f.tr.Sent()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}
