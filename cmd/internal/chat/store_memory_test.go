package chat

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryStore_Append_IdempotentPerClientMsgID(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	first, err := store.Append(ctx, AppendInput{
		MatchID:     "m1",
		ClientMsgID: "cmsg-1",
		SenderID:    "alice",
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("first append marked duplicated")
	}
	if first.Stored.Seq != 1 {
		t.Fatalf("expected seq=1, got %d", first.Stored.Seq)
	}

	second, err := store.Append(ctx, AppendInput{
		MatchID:     "m1",
		ClientMsgID: "cmsg-1", // duplicate on purpose
		SenderID:    "alice",
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("expected Duplicated=true")
	}
	if second.Stored.Seq != first.Stored.Seq || second.Stored.ID != first.Stored.ID {
		t.Fatalf("duplicate must return the original record")
	}

	hist, err := store.History(ctx, HistoryInput{MatchID: "m1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(hist.Messages))
	}
}

func TestInMemoryStore_History_OrderAndPaging(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, AppendInput{
			MatchID:     "m1",
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    "alice",
			Text:        fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page1, err := store.History(ctx, HistoryInput{MatchID: "m1", Limit: 3})
	if err != nil {
		t.Fatalf("history page1: %v", err)
	}
	if len(page1.Messages) != 3 || !page1.HasMore {
		t.Fatalf("page1: got %d msgs hasMore=%v", len(page1.Messages), page1.HasMore)
	}
	for i, m := range page1.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("page1: expected seq %d at index %d, got %d", i+1, i, m.Seq)
		}
	}

	after := page1.Messages[len(page1.Messages)-1].Seq
	page2, err := store.History(ctx, HistoryInput{MatchID: "m1", AfterSeq: &after, Limit: 10})
	if err != nil {
		t.Fatalf("history page2: %v", err)
	}
	if len(page2.Messages) != 2 || page2.HasMore {
		t.Fatalf("page2: got %d msgs hasMore=%v", len(page2.Messages), page2.HasMore)
	}
	if page2.Messages[0].Seq != 4 || page2.Messages[1].Seq != 5 {
		t.Fatalf("page2: wrong seqs [%d,%d]", page2.Messages[0].Seq, page2.Messages[1].Seq)
	}
}

func TestInMemoryStore_HistoryStable_AcrossReads(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, AppendInput{
			MatchID:     "m1",
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    "alice",
			Text:        fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	a, err := store.History(ctx, HistoryInput{MatchID: "m1"})
	if err != nil {
		t.Fatalf("history a: %v", err)
	}
	b, err := store.History(ctx, HistoryInput{MatchID: "m1"})
	if err != nil {
		t.Fatalf("history b: %v", err)
	}
	if len(a.Messages) != len(b.Messages) {
		t.Fatalf("re-read changed length: %d vs %d", len(a.Messages), len(b.Messages))
	}
	for i := range a.Messages {
		if a.Messages[i].ID != b.Messages[i].ID || a.Messages[i].Seq != b.Messages[i].Seq {
			t.Fatalf("re-read changed order at %d", i)
		}
	}
}

func TestInMemoryStore_CountBySender(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	senders := []string{"alice", "bob", "alice", "alice"}
	for i, s := range senders {
		if _, err := store.Append(ctx, AppendInput{
			MatchID:     "m1",
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    s,
			Text:        "x",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := store.CountBySender(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 alice messages, got %d", n)
	}

	n, err = store.CountBySender(ctx, "missing", "alice")
	if err != nil {
		t.Fatalf("count missing match: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for unknown match, got %d", n)
	}
}

func TestInMemoryStore_MarkRead_OnlyCounterpartMessages(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	for i, s := range []string{"alice", "bob", "alice"} {
		if _, err := store.Append(ctx, AppendInput{
			MatchID:     "m1",
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    s,
			Text:        "x",
			Now:         time.Now().UTC(),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.MarkRead(ctx, "m1", "bob"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	hist, err := store.History(ctx, HistoryInput{MatchID: "m1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, m := range hist.Messages {
		wantRead := m.SenderID != "bob"
		if m.Read != wantRead {
			t.Fatalf("message from %s: read=%v want=%v", m.SenderID, m.Read, wantRead)
		}
	}
}
