package chat

import (
	"context"
	"sync"
)

// InMemoryLock is the dev/test ReplyLock. It provides single-flight only
// within one process, which is fine for single-instance dev runs; deployments
// with multiple processes must use PostgresLock.
type InMemoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInMemoryLock constructs an in-memory ReplyLock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for matchID if free.
func (l *InMemoryLock) TryAcquire(ctx context.Context, matchID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[matchID]; ok {
		return false, nil
	}
	l.held[matchID] = struct{}{}
	return true, nil
}

// Release frees the lock for matchID. No-op when not held.
func (l *InMemoryLock) Release(_ context.Context, matchID string) {
	l.mu.Lock()
	delete(l.held, matchID)
	l.mu.Unlock()
}
