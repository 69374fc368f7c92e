package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event names a bus topic whose payload is always a JSON-encoded T.
type Event[T any] struct {
	name string
}

// NewEvent declares a typed bus topic.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{name: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string { return e.name }

// Publish sends a typed event from source. The compiler ensures payload matches T.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], source string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.name, err)
	}
	return p.Publish(ctx, Message{
		Topic:   event.name,
		Source:  source,
		Payload: data,
	})
}

// Decode unmarshals the payload of a message published for event.
func Decode[T any](event Event[T], msg Message) (T, error) {
	var out T
	if msg.Topic != event.name {
		return out, fmt.Errorf("message topic %q is not %q", msg.Topic, event.name)
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", event.name, err)
	}
	return out, nil
}
