package socket_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/topics"
	"github.com/nfrund/brokerlink/internal/transport"
)

var motor = map[string]any{"type": "motor"}

func TestSendMessage_RequestResponseEndToEnd(t *testing.T) {
	c, tr := newConnection(t, fastTiming)
	require.NoError(t, wait(t, c.Open()))

	var seen atomic.Int32
	_, err := c.OnMessage(motor, func(any) { seen.Add(1) })
	require.NoError(t, err)

	var mu sync.Mutex
	var replies []any
	_, err = c.SendMessage(motor, map[string]any{"data": "test"}, motor, func(contents any) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, contents)
	})
	require.NoError(t, err)

	// The loopback delivers the sent envelope back; inject a second identical one.
	assert.Eventually(t, func() bool { return seen.Load() == 1 }, waitFor, tick)
	require.NoError(t, tr.Inject(transport.Envelope{
		Topics:   topics.MustFrom(motor),
		Contents: map[string]any{"data": "test"},
	}))
	assert.Eventually(t, func() bool { return seen.Load() == 2 }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 1, "one-shot response listener fires once")
	assert.Equal(t, map[string]any{"data": "test"}, replies[0])
}

func TestSendMessage_PermutedResponseTopicsMatch(t *testing.T) {
	c, tr := newConnection(t, fastTiming)
	require.NoError(t, wait(t, c.Open()))

	got := make(chan any, 1)
	_, err := c.SendMessage(
		map[string]any{"type": "broker", "request": "get_protocols"}, nil,
		map[string]any{"type": "broker", "response": "get_protocols_response"},
		func(contents any) { got <- contents })
	require.NoError(t, err)

	require.NoError(t, tr.Inject(transport.Envelope{
		Topics:   topics.MustFrom(map[string]any{"response": "get_protocols_response", "type": "broker"}),
		Contents: map[string]any{"protocols": []any{"serial"}},
	}))

	select {
	case contents := <-got:
		assert.Equal(t, map[string]any{"protocols": []any{"serial"}}, contents)
	case <-time.After(waitFor):
		t.Fatal("response listener never fired")
	}
}

func TestSendMessage_QueuedUntilOpen(t *testing.T) {
	c, _ := newConnection(t, fastTiming)

	got := make(chan any, 1)
	_, err := c.SendMessage(motor, map[string]any{"data": "early"}, motor, func(contents any) { got <- contents })
	require.NoError(t, err)

	require.NoError(t, wait(t, c.Open()))
	select {
	case contents := <-got:
		assert.Equal(t, map[string]any{"data": "early"}, contents)
	case <-time.After(waitFor):
		t.Fatal("message sent before open was dropped")
	}
}

func TestSendMessage_Contents(t *testing.T) {
	type command struct {
		Speed int `json:"speed"`
	}

	tests := []struct {
		name     string
		contents any
		want     any
	}{
		{name: "nil becomes empty mapping", contents: nil, want: map[string]any{}},
		{name: "nil map becomes empty mapping", contents: map[string]int(nil), want: map[string]any{}},
		{name: "string keyed map", contents: map[string]int{"speed": 3}, want: map[string]int{"speed": 3}},
		{name: "struct", contents: command{Speed: 3}, want: command{Speed: 3}},
		{name: "struct pointer", contents: &command{Speed: 3}, want: &command{Speed: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tr := newConnection(t, fastTiming)
			require.NoError(t, wait(t, c.Open()))

			p, err := c.SendMessage(motor, tt.contents, nil, nil)
			require.NoError(t, err)
			require.NoError(t, wait(t, p))

			sent := tr.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, `{"type":"motor"}`, topics.Encode(sent[0].Topics))
			assert.Equal(t, tt.want, sent[0].Contents)
		})
	}
}

func TestSendMessage_InvalidArguments(t *testing.T) {
	noop := func(any) {}

	tests := []struct {
		name           string
		topics         any
		contents       any
		responseTopics any
		callback       func(any)
	}{
		{name: "string topics", topics: "motor"},
		{name: "sequence topics", topics: []any{"type", "motor"}},
		{name: "nil topics", topics: nil},
		{name: "unsupported topic value", topics: map[string]any{"type": make(chan int)}},
		{name: "non-finite topic number", topics: map[string]any{"type": "motor", "id": math.NaN()}},
		{name: "response topics without callback", topics: motor, responseTopics: motor},
		{name: "callback without response topics", topics: motor, callback: noop},
		{name: "string contents", topics: motor, contents: "data"},
		{name: "number contents", topics: motor, contents: 5},
		{name: "slice contents", topics: motor, contents: []string{"data"}},
		{name: "int keyed map contents", topics: motor, contents: map[int]string{1: "data"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tr := newConnection(t, fastTiming)

			p, err := c.SendMessage(tt.topics, tt.contents, tt.responseTopics, tt.callback)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Nil(t, p)

			require.NoError(t, wait(t, c.Open()))
			assert.Empty(t, tr.Sent(), "rejected calls transmit nothing")
		})
	}
}

func TestSendMessage_RejectedCallRegistersNothing(t *testing.T) {
	c, tr := newConnection(t, fastTiming)
	require.NoError(t, wait(t, c.Open()))

	var fired atomic.Bool
	_, err := c.SendMessage(motor, "not a mapping", motor, func(any) { fired.Store(true) })
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, tr.Inject(transport.Envelope{Topics: topics.MustFrom(motor)}))
	assert.Never(t, fired.Load, 50*time.Millisecond, tick)
}

func TestOnMessage(t *testing.T) {
	c, tr := newConnection(t, fastTiming)
	require.NoError(t, wait(t, c.Open()))

	_, err := c.OnMessage("motor", func(any) {})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = c.OnMessage(motor, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	var calls atomic.Int32
	stop, err := c.OnMessage(motor, func(any) { calls.Add(1) })
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Inject(transport.Envelope{Topics: topics.MustFrom(motor)}))
	}
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick, "persistent listener fires every time")

	stop()
	require.NoError(t, tr.Inject(transport.Envelope{Topics: topics.MustFrom(motor)}))
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, tick)
}

func TestRequest(t *testing.T) {
	t.Run("reply", func(t *testing.T) {
		c, _ := newConnection(t, fastTiming)
		require.NoError(t, wait(t, c.Open()))

		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		reply, err := c.Request(ctx, motor, map[string]any{"data": "ping"}, motor)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"data": "ping"}, reply)
	})

	t.Run("unanswered request is removed on cancel", func(t *testing.T) {
		cfg := fastTiming
		cfg.NoLoopback = true
		c, tr := newConnection(t, cfg)
		require.NoError(t, wait(t, c.Open()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := c.Request(ctx, motor, nil, map[string]any{"type": "motor_response"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// A late reply finds no listener; a fresh one proves the topic is clear.
		var calls atomic.Int32
		_, err = c.OnMessage(map[string]any{"type": "motor_response"}, func(any) { calls.Add(1) })
		require.NoError(t, err)
		require.NoError(t, tr.Inject(transport.Envelope{Topics: topics.MustFrom(map[string]any{"type": "motor_response"})}))
		assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	})

	t.Run("response topics required", func(t *testing.T) {
		c, _ := newConnection(t, fastTiming)
		_, err := c.Request(context.Background(), motor, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestSubscribe(t *testing.T) {
	cfg := fastTiming
	cfg.NoLoopback = true
	c, tr := newConnection(t, cfg)
	require.NoError(t, wait(t, c.Open()))

	sensor := map[string]any{"type": "sensor", "id": 7}
	got := make(chan any, 1)
	unsubscribe, err := c.Subscribe(sensor, func(contents any) { got <- contents })
	require.NoError(t, err)

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, topics.Encode(topics.Subscribe.Topics()), topics.Encode(sent[0].Topics))
	assert.Equal(t, map[string]any{"TOPICS": map[string]any{"id": 7.0, "type": "sensor"}}, sent[0].Contents)

	require.NoError(t, tr.Inject(transport.Envelope{Topics: topics.MustFrom(sensor), Contents: map[string]any{"value": 1}}))
	select {
	case contents := <-got:
		assert.Equal(t, map[string]any{"value": 1}, contents)
	case <-time.After(waitFor):
		t.Fatal("subscription listener never fired")
	}

	unsubscribe()
	unsubscribe()
	sent = tr.Sent()
	require.Len(t, sent, 2, "unsubscribe is sent once")
	assert.Equal(t, topics.Encode(topics.Unsubscribe.Topics()), topics.Encode(sent[1].Topics))

	_, err = c.Subscribe("sensor", func(any) {})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
