package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when BRANDLINK_DATABASE_URL is set.
// This keeps local "go test ./..." fast and deterministic without Postgres.

func TestPostgresStore_Append_Dedupe_NoSeqWaste(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithStoreSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	matchID := "it-dedupe-" + randomHex(8)
	clientMsgID := "cmsg-" + randomHex(8)
	now := time.Now().UTC()

	first, err := store.Append(ctx, AppendInput{
		MatchID:     matchID,
		ClientMsgID: clientMsgID,
		SenderID:    "alice",
		Text:        "hello",
		Now:         now,
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Duplicated || first.Stored.Seq != 1 {
		t.Fatalf("append first: duplicated=%v seq=%d", first.Duplicated, first.Stored.Seq)
	}
	if strings.TrimSpace(first.Stored.ID) == "" {
		t.Fatalf("append first: expected non-empty message id")
	}

	second, err := store.Append(ctx, AppendInput{
		MatchID:     matchID,
		ClientMsgID: clientMsgID, // duplicate on purpose
		SenderID:    "alice",
		Text:        "hello",
		Now:         now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("append duplicate: expected Duplicated=true")
	}
	if second.Stored.Seq != first.Stored.Seq || second.Stored.ID != first.Stored.ID {
		t.Fatalf("append duplicate: record mismatch")
	}

	// No seq was wasted: the next message gets 2.
	third, err := store.Append(ctx, AppendInput{
		MatchID:     matchID,
		ClientMsgID: "cmsg-" + randomHex(8),
		SenderID:    "alice",
		Text:        "again",
		Now:         now.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("append third: %v", err)
	}
	if third.Stored.Seq != 2 {
		t.Fatalf("expected seq=2 after duplicate, got %d", third.Stored.Seq)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq_NoGaps(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithStoreSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	matchID := "it-concurrency-" + randomHex(8)

	const n = 32

	var wg sync.WaitGroup
	wg.Add(n)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, AppendInput{
				MatchID:     matchID,
				ClientMsgID: fmt.Sprintf("cmsg-%d-%s", i, randomHex(5)),
				SenderID:    "alice",
				Text:        fmt.Sprintf("m%d", i),
				Now:         time.Now().UTC(),
			})
			if err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	out, err := store.History(ctx, HistoryInput{MatchID: matchID, Limit: 200})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(out.Messages) != n || out.HasMore {
		t.Fatalf("expected %d messages hasMore=false, got %d/%v", n, len(out.Messages), out.HasMore)
	}

	for i, m := range out.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap or reorder at index %d: got %d", i, m.Seq)
		}
	}
}

func TestPostgresStore_MarkRead_And_CountBySender(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	store, err := NewPostgresStore(pool, WithStoreSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	matchID := "it-read-" + randomHex(8)

	for i, sender := range []string{"alice", "bob", "alice"} {
		if _, err := store.Append(ctx, AppendInput{
			MatchID:     matchID,
			ClientMsgID: fmt.Sprintf("cmsg-%d", i),
			SenderID:    sender,
			Text:        "x",
			Now:         time.Now().UTC(),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	n, err := store.CountBySender(ctx, matchID, "alice")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 alice messages, got %d", n)
	}

	if err := store.MarkRead(ctx, matchID, "bob"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	hist, err := store.History(ctx, HistoryInput{MatchID: matchID})
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

func TestPostgresLock_CrossInstance_SingleFlight(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Two lock instances simulate two server processes sharing one database.
	lockA, err := NewPostgresLock(testLogger(), pool)
	if err != nil {
		t.Fatalf("new lock a: %v", err)
	}
	lockB, err := NewPostgresLock(testLogger(), pool)
	if err != nil {
		t.Fatalf("new lock b: %v", err)
	}

	matchID := "it-lock-" + randomHex(8)

	got, err := lockA.TryAcquire(ctx, matchID)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if !got {
		t.Fatalf("expected first acquire to win")
	}

	got, err = lockB.TryAcquire(ctx, matchID)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if got {
		t.Fatalf("expected cross-instance acquire to lose while held")
	}

	lockA.Release(ctx, matchID)

	got, err = lockB.TryAcquire(ctx, matchID)
	if err != nil {
		t.Fatalf("reacquire b: %v", err)
	}
	if !got {
		t.Fatalf("expected acquire to succeed after release")
	}
	lockB.Release(ctx, matchID)
}

func TestPostgresLock_ReleaseWithoutAcquire_Safe(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	lock, err := NewPostgresLock(testLogger(), pool)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	// Must not panic or consume a connection.
	lock.Release(context.Background(), "never-held-"+randomHex(6))
}

// ---- test helpers ----

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BRANDLINK_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BRANDLINK_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse BRANDLINK_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "brandlink_it_" + strings.ToLower(randomHex(8))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// mustApplyChatSchema installs the minimal tables PostgresStore needs.
// Must remain semantically aligned with db/schema.sql (FKs omitted so tests
// do not need the registry tables).
func mustApplyChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cursors := chatIdent(schema, "match_cursors")
	messages := chatIdent(schema, "messages")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  match_id   TEXT PRIMARY KEY,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  match_id      TEXT NOT NULL,
  seq           BIGINT NOT NULL,
  id            TEXT NOT NULL,
  client_msg_id TEXT NOT NULL,
  sender_id     TEXT NOT NULL,
  text          TEXT NOT NULL,
  read          BOOLEAN NOT NULL DEFAULT FALSE,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (match_id, seq),
  CONSTRAINT uq_messages_match_client_msg UNIQUE (match_id, client_msg_id),
  CONSTRAINT uq_messages_id UNIQUE (id)
);
`, cursors, messages)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
