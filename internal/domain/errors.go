package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the socket layer. Callers check them with errors.Is.
var (
	// ErrConfiguration is returned when an acquisition argument is neither a URL nor a connection mapping.
	ErrConfiguration = errors.New("invalid connection configuration")
	// ErrInvalidArgument is returned synchronously for malformed SendMessage/OnMessage calls.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed resolves pending open requests whose attempt ended in a close.
	ErrClosed = errors.New("connection closed")
)

// TransportError describes a failure inside a transport. It is only ever
// delivered through OnError callbacks, never returned from a call site.
type TransportError struct {
	URL string
	Op  string // "dial", "read", "write", "decode", ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DispatchCallbackError wraps a panic raised by a listener callback during dispatch.
type DispatchCallbackError struct {
	Topic     string // canonical topic string
	Recovered any
}

func (e *DispatchCallbackError) Error() string {
	return fmt.Sprintf("listener callback for %s panicked: %v", e.Topic, e.Recovered)
}

// Unwrap exposes the panic value when the callback panicked with an error.
func (e *DispatchCallbackError) Unwrap() error {
	if err, ok := e.Recovered.(error); ok {
		return err
	}
	return nil
}

// InvalidArgument wraps ErrInvalidArgument with a description of the offending parameter.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
