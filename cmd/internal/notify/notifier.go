// Package notify is the best-effort out-of-band side-channel for chat.
// Nothing in here may ever fail the send-message path: callers dispatch work
// through Go and failures end in the log, not in an error return.
package notify

import (
	"context"
	"log/slog"
	"time"
)

const dispatchTimeout = 15 * time.Second

// Notifier alerts a participant about a new message when they are not
// connected to see it live.
type Notifier interface {
	NewMessage(ctx context.Context, recipientEmail, senderName, preview, matchID string) error
}

// Go runs fn on a detached goroutine with its own bounded context.
// Errors are logged and discarded; nothing joins back into the caller.
func Go(log *slog.Logger, event string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			log.Warn(event, "err", err)
		}
	}()
}

// Noop is the dev Notifier: it logs and does nothing else.
type Noop struct {
	Log *slog.Logger
}

// NewMessage logs the would-be notification.
func (n Noop) NewMessage(_ context.Context, recipientEmail, senderName, _, matchID string) error {
	if n.Log != nil {
		n.Log.Debug("notify.noop", "recipient", recipientEmail, "sender", senderName, "match_id", matchID)
	}
	return nil
}
