package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"brandlink/cmd/internal/ids"
)

const memMaxMessagesPerMatch = 10_000

// InMemoryStore is the dev/test MessageStore. Semantics mirror PostgresStore:
// idempotent append, monotonic seq, history ordered by seq ASC.
type InMemoryStore struct {
	mu      sync.Mutex
	matches map[string]*memMatch
}

type memMatch struct {
	seq    int64
	dedupe map[string]int // client_msg_id -> index into msgs
	msgs   []Message
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{matches: make(map[string]*memMatch)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message with idempotency and monotonic seq allocation.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.MatchID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.matches[in.MatchID]
	if m == nil {
		m = &memMatch{
			dedupe: make(map[string]int),
			msgs:   make([]Message, 0, 64),
		}
		s.matches[in.MatchID] = m
	}

	if idx, ok := m.dedupe[in.ClientMsgID]; ok {
		return AppendResult{Stored: m.msgs[idx], Duplicated: true}, nil
	}

	m.seq++
	msg := Message{
		MatchID:     in.MatchID,
		ID:          ids.MustULID(now),
		ClientMsgID: in.ClientMsgID,
		Seq:         m.seq,
		SenderID:    in.SenderID,
		Text:        in.Text,
		CreatedAt:   now,
	}
	m.dedupe[in.ClientMsgID] = len(m.msgs)
	m.msgs = append(m.msgs, msg)

	// Bound memory in dev.
	if len(m.msgs) > memMaxMessagesPerMatch {
		drop := len(m.msgs) - memMaxMessagesPerMatch
		m.msgs = m.msgs[drop:]
		for k, v := range m.dedupe {
			if v < drop {
				delete(m.dedupe, k)
			} else {
				m.dedupe[k] = v - drop
			}
		}
	}

	return AppendResult{Stored: msg, Duplicated: false}, nil
}

// History returns messages ordered by seq ASC with paging via AfterSeq.
func (s *InMemoryStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if in.MatchID == "" {
		return HistoryResult{}, errors.New("missing match_id")
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}

	limit := historyLimit(in.Limit)
	fetch := limit + 1

	s.mu.Lock()
	m := s.matches[in.MatchID]
	var snap []Message
	if m != nil {
		snap = append([]Message(nil), m.msgs...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return HistoryResult{}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return HistoryResult{}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return HistoryResult{Messages: out, HasMore: hasMore}, nil
}

// CountBySender reports how many messages senderID has sent in a match.
func (s *InMemoryStore) CountBySender(ctx context.Context, matchID, senderID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.matches[matchID]
	if m == nil {
		return 0, nil
	}
	var n int64
	for _, msg := range m.msgs {
		if msg.SenderID == senderID {
			n++
		}
	}
	return n, nil
}

// MarkRead flags all messages not sent by readerID as read.
func (s *InMemoryStore) MarkRead(ctx context.Context, matchID, readerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.matches[matchID]
	if m == nil {
		return nil
	}
	for i := range m.msgs {
		if m.msgs[i].SenderID != readerID {
			m.msgs[i].Read = true
		}
	}
	return nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
