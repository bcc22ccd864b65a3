package notify

import (
	"context"

	"signal-relay/internal/logger"
	"signal-relay/internal/monitoring"
)

// Gate reports whether outbound notifications are currently allowed
type Gate interface {
	Allow() bool
}

// Gated wraps a Messenger and silently drops messages while the gate is
// closed. Dropping, not blocking: callers never stall on a halted gate.
type Gated struct {
	inner Messenger
	gate  Gate
}

// NewGated wraps inner with the given gate
func NewGated(inner Messenger, gate Gate) *Gated {
	return &Gated{inner: inner, gate: gate}
}

func (g *Gated) Send(ctx context.Context, text string) (int64, error) {
	if !g.gate.Allow() {
		monitoring.RecordNotification("dropped")
		logger.S().Debugf("notification dropped while halted: %.60s", text)
		return 0, nil
	}
	monitoring.RecordNotification("root")
	return g.inner.Send(ctx, text)
}

func (g *Gated) Reply(ctx context.Context, replyTo int64, text string) (int64, error) {
	if !g.gate.Allow() {
		monitoring.RecordNotification("dropped")
		logger.S().Debugf("notification dropped while halted: %.60s", text)
		return 0, nil
	}
	monitoring.RecordNotification("reply")
	return g.inner.Reply(ctx, replyTo, text)
}
