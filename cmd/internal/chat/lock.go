package chat

import "context"

// ReplyLock guarantees at most one simulated-reply generation is in flight
// per match, across every process serving traffic for that match.
//
// Contract:
//   - TryAcquire never blocks; false means another generation is running.
//   - Release is idempotent and safe to call without a prior successful
//     acquire, so cleanup paths stay simple.
//
// Every caller wraps the generate-and-persist sequence in a deferred Release
// so an error mid-generation cannot strand the lock.
type ReplyLock interface {
	TryAcquire(ctx context.Context, matchID string) (bool, error)
	Release(ctx context.Context, matchID string)
}
