package socket

import (
	"context"
	"reflect"
	"sync"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/listeners"
	"github.com/nfrund/brokerlink/internal/topics"
	"github.com/nfrund/brokerlink/internal/transport"
)

// SendMessage transmits an envelope addressed by topicsArg, which must convert
// to a mapping descriptor. contents may be nil (sent as an empty mapping), a
// string-keyed map or a struct.
//
// responseTopics and responseCallback must be supplied together. When they
// are, a one-shot listener is registered on responseTopics before anything is
// transmitted. Messages sent while the connection is not open are queued by
// the transport and flushed once it opens; transport failures are reported
// through OnError, never here. The returned Pending resolves once the envelope
// has been handed to the transport.
func (c *Connection) SendMessage(topicsArg, contents, responseTopics any, responseCallback listeners.Callback) (*Pending, error) {
	if _, err := c.send(topicsArg, contents, responseTopics, responseCallback); err != nil {
		return nil, err
	}
	return resolved(nil), nil
}

// OnMessage registers a persistent listener for messages addressed by
// topicsArg, which must convert to a mapping descriptor.
func (c *Connection) OnMessage(topicsArg any, cb listeners.Callback) (listeners.Deregister, error) {
	desc, err := mappingTopics("topics", topicsArg)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, domain.InvalidArgument("callback is required")
	}
	return c.table.Register(desc, cb, true), nil
}

// Request sends a message and waits for the first reply on responseTopics.
// Cancelling ctx removes the response listener, so unanswered requests do not
// stay registered.
func (c *Connection) Request(ctx context.Context, topicsArg, contents, responseTopics any) (any, error) {
	if responseTopics == nil {
		return nil, domain.InvalidArgument("responseTopics is required")
	}

	reply := make(chan any, 1)
	deregister, err := c.send(topicsArg, contents, responseTopics, func(v any) {
		select {
		case reply <- v:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		deregister()
		return nil, ctx.Err()
	}
}

// Subscribe asks the broker to forward messages matching topicsArg to this
// connection and registers cb for them. The returned handle removes the
// listener and sends the matching unsubscribe request.
func (c *Connection) Subscribe(topicsArg any, cb listeners.Callback) (listeners.Deregister, error) {
	desc, err := mappingTopics("topics", topicsArg)
	if err != nil {
		return nil, err
	}
	stop, err := c.OnMessage(desc, cb)
	if err != nil {
		return nil, err
	}

	request := map[string]any{"TOPICS": desc.Value()}
	if _, err := c.send(topics.Subscribe.Topics(), request, nil, nil); err != nil {
		stop()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			if _, err := c.send(topics.Unsubscribe.Topics(), request, nil, nil); err != nil {
				c.logger.Warn("Failed to send unsubscribe", "topic", desc.String(), "error", err)
			}
		})
	}, nil
}

// send validates every argument before registering anything, so a rejected
// call leaves no listener behind.
func (c *Connection) send(topicsArg, contents, responseTopics any, cb listeners.Callback) (listeners.Deregister, error) {
	desc, err := mappingTopics("topics", topicsArg)
	if err != nil {
		return nil, err
	}
	if (responseTopics == nil) != (cb == nil) {
		return nil, domain.InvalidArgument("responseTopics and responseCallback must be supplied together")
	}
	body, err := normalizeContents(contents)
	if err != nil {
		return nil, err
	}

	deregister := listeners.Deregister(func() {})
	if cb != nil {
		response, err := topics.From(responseTopics)
		if err != nil {
			return nil, err
		}
		deregister = c.table.Register(response, cb, false)
	}

	if err := c.transport.Send(transport.Envelope{Topics: desc, Contents: body}); err != nil {
		deregister()
		return nil, err
	}
	return deregister, nil
}

func mappingTopics(name string, v any) (topics.Descriptor, error) {
	desc, err := topics.From(v)
	if err != nil {
		return topics.Descriptor{}, err
	}
	if !desc.IsMapping() {
		return topics.Descriptor{}, domain.InvalidArgument("%s must be a mapping, got %s", name, desc.Kind())
	}
	return desc, nil
}

func normalizeContents(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			if rv.IsNil() {
				return map[string]any{}, nil
			}
			return v, nil
		}
	case reflect.Struct:
		return v, nil
	case reflect.Pointer:
		if rv.Type().Elem().Kind() == reflect.Struct {
			if rv.IsNil() {
				return map[string]any{}, nil
			}
			return v, nil
		}
	}
	return nil, domain.InvalidArgument("contents must be a mapping, got %T", v)
}
