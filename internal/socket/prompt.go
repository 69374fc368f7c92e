package socket

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPromptDelay is how long a reconnect offer stays up before it is
// dismissed on its own.
const DefaultPromptDelay = 3 * time.Second

// ReconnectPrompter presents the reconnect affordance after an unexpected
// close. PromptReconnect returns true when the user accepted. ctx expires when
// the offer is auto-dismissed; an answer given after that is ignored.
type ReconnectPrompter interface {
	PromptReconnect(ctx context.Context, message string) bool
}

// PromptFunc adapts a function to ReconnectPrompter.
type PromptFunc func(ctx context.Context, message string) bool

func (f PromptFunc) PromptReconnect(ctx context.Context, message string) bool {
	return f(ctx, message)
}

// logPrompter only reports the lost connection. It never reconnects.
type logPrompter struct {
	logger *slog.Logger
}

func (p logPrompter) PromptReconnect(_ context.Context, message string) bool {
	p.logger.Warn(message, "hint", "call Open to reconnect")
	return false
}
