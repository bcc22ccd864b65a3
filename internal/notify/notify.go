// Package notify delivers lifecycle notifications as threaded messages.
// Send starts a new thread and returns its message id; Reply attaches a
// follow-up to an existing thread.
package notify

import "context"

// Messenger is the outbound notification port
type Messenger interface {
	Send(ctx context.Context, text string) (int64, error)
	Reply(ctx context.Context, replyTo int64, text string) (int64, error)
}

// Null discards every message. Used in dry runs and tests.
type Null struct{}

func (Null) Send(ctx context.Context, text string) (int64, error) { return 0, nil }

func (Null) Reply(ctx context.Context, replyTo int64, text string) (int64, error) {
	return 0, nil
}
