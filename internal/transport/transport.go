// Package transport defines the capability a Connection drives: a single
// session-oriented channel to the broker that reports lifecycle and message
// events in order. Framing is entirely the implementation's concern; consumers
// only ever see decoded Envelopes.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nfrund/brokerlink/internal/topics"
)

// Envelope is the unit exchanged with the broker.
type Envelope struct {
	Topics   topics.Descriptor `json:"topics"`
	Contents any               `json:"contents"`
}

// EventType identifies what happened on a transport.
type EventType int

const (
	EventOpen EventType = iota
	EventClose
	EventError
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is delivered on a transport's Events channel.
type Event struct {
	Type EventType
	// Session identifies the transport session the event belongs to.
	Session string
	// Envelope is set for EventMessage.
	Envelope Envelope
	// Err is set for EventError, and for EventClose when the session ended abnormally.
	Err error
}

// Transport is a reopenable connection to one broker endpoint.
type Transport interface {
	// URL returns the endpoint this transport connects to.
	URL() string
	// Open starts a session in the background. It is a no-op while a session
	// is connecting or open. Dial failures are reported as events.
	Open() error
	// Close requests a graceful close of the current session.
	Close() error
	// Send transmits env. Envelopes sent while no session is open are queued
	// and flushed, in order, once the next session opens.
	Send(env Envelope) error
	// Events delivers lifecycle and message events in arrival order. The
	// channel is never closed.
	Events() <-chan Event
	// Mock reports whether this is an in-process scripted transport.
	Mock() bool
}

// DecodeEnvelope parses one JSON text frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var raw struct {
		Topics   *topics.Descriptor `json:"topics"`
		Contents json.RawMessage    `json:"contents"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if raw.Topics == nil {
		return Envelope{}, fmt.Errorf("decode envelope: missing topics")
	}

	env := Envelope{Topics: *raw.Topics}
	if len(bytes.TrimSpace(raw.Contents)) > 0 {
		if err := json.Unmarshal(raw.Contents, &env.Contents); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope contents: %w", err)
		}
	}
	return env, nil
}

// EncodeEnvelope renders env as one JSON text frame.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
