package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const lockReleaseTimeout = 5 * time.Second

// PostgresLock implements ReplyLock with session-level advisory locks.
//
// pg_advisory_unlock must run on the same backend connection that acquired
// the lock, so a held lock pins one pooled connection until Release. With at
// most one generation in flight per match this stays well below any sane
// pool size.
//
// A crashed process releases its locks automatically when Postgres reaps the
// session, so no lock can outlive its holder.
type PostgresLock struct {
	log  *slog.Logger
	pool *pgxpool.Pool

	mu   sync.Mutex
	held map[string]*pgxpool.Conn
}

// NewPostgresLock constructs a Postgres-backed ReplyLock.
func NewPostgresLock(log *slog.Logger, pool *pgxpool.Pool) (*PostgresLock, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return &PostgresLock{
		log:  log,
		pool: pool,
		held: make(map[string]*pgxpool.Conn),
	}, nil
}

// TryAcquire takes a non-blocking advisory lock keyed by matchID.
func (l *PostgresLock) TryAcquire(ctx context.Context, matchID string) (bool, error) {
	if matchID == "" {
		return false, errors.New("chat: empty match id")
	}

	l.mu.Lock()
	if _, ok := l.held[matchID]; ok {
		// This process already holds the lock; treat as contention.
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}

	var got bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, matchID,
	).Scan(&got); err != nil {
		conn.Release()
		return false, err
	}
	if !got {
		conn.Release()
		return false, nil
	}

	l.mu.Lock()
	l.held[matchID] = conn
	l.mu.Unlock()
	return true, nil
}

// Release unlocks matchID and returns its connection to the pool.
// No-op when this process does not hold the lock.
func (l *PostgresLock) Release(ctx context.Context, matchID string) {
	l.mu.Lock()
	conn, ok := l.held[matchID]
	delete(l.held, matchID)
	l.mu.Unlock()

	if !ok {
		return
	}

	// Release must succeed even when the caller's context is already dead.
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	unlockCtx, cancel := context.WithTimeout(ctx, lockReleaseTimeout)
	defer cancel()

	if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, matchID); err != nil {
		l.log.Error("chat.lock.release.fail", "match_id", matchID, "err", err)
	}
	conn.Release()
}
