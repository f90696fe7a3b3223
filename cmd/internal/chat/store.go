package chat

import (
	"context"
	"time"
)

// Message is the canonical persisted message representation.
// Immutable after creation except the Read flag.
type Message struct {
	MatchID     string
	ID          string
	ClientMsgID string
	Seq         int64
	SenderID    string
	Text        string
	Read        bool
	CreatedAt   time.Time
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Idempotency per (match_id, client_msg_id)
//   - Monotonic seq per match, stable under concurrent appends
//   - History ordered by seq ASC
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	History(ctx context.Context, in HistoryInput) (HistoryResult, error)
	// CountBySender reports how many messages senderID has sent in a match.
	// The first-reply trigger uses a zero count as "the counterpart has not
	// spoken yet".
	CountBySender(ctx context.Context, matchID, senderID string) (int64, error)
	// MarkRead flags all messages not sent by readerID as read.
	MarkRead(ctx context.Context, matchID, readerID string) error
	Close() error
}

// AppendInput describes a message append request.
type AppendInput struct {
	MatchID     string
	ClientMsgID string
	SenderID    string
	Text        string
	Now         time.Time
}

// AppendResult is the append operation result.
type AppendResult struct {
	Stored     Message
	Duplicated bool
}

// HistoryInput describes a history query request.
type HistoryInput struct {
	MatchID  string
	AfterSeq *int64
	Limit    int
}

// HistoryResult contains the retrieved history window.
type HistoryResult struct {
	Messages []Message
	HasMore  bool
}
