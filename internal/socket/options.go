package socket

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type options struct {
	logger      *slog.Logger
	prompter    ReconnectPrompter
	promptDelay time.Duration
	reconnect   *reconnectPolicy
}

// Option configures a Connection.
type Option func(*options)

// WithLogger sets the logger used by the connection and its listener table.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReconnectPrompt replaces the default prompter, which only logs.
func WithReconnectPrompt(p ReconnectPrompter) Option {
	return func(o *options) {
		if p != nil {
			o.prompter = p
		}
	}
}

// WithPromptDelay sets how long a reconnect offer stays up.
func WithPromptDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.promptDelay = d
		}
	}
}

// WithAutoReconnect makes the connection reopen itself after every unexpected
// close, waiting minDelay before the first attempt and doubling the wait up to
// maxDelay.
// The reconnect prompt is not shown when this is enabled.
func WithAutoReconnect(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		if minDelay <= 0 {
			return
		}
		if maxDelay < minDelay {
			maxDelay = minDelay
		}
		o.reconnect = &reconnectPolicy{min: minDelay, max: maxDelay}
	}
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		promptDelay: DefaultPromptDelay,
	}
}

type reconnectPolicy struct {
	min, max time.Duration
}

// newBackOff returns a doubling schedule from min to max that never gives up.
func (p reconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.min
	b.MaxInterval = p.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
