package chat

import (
	"sync"

	v1 "brandlink/shared/contracts/chat/v1"
)

// Client represents one connected websocket session bound to a participant.
//
// Send is intentionally never closed by the server so concurrent broadcasters
// cannot panic on a closed channel; done signals goroutines to stop instead.
type Client struct {
	SessionID     string
	ParticipantID string
	Send          chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(participantID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Send:          make(chan v1.Envelope, sendQueueSize),
		done:          make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
