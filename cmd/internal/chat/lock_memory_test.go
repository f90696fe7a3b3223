package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInMemoryLock_SingleHolder(t *testing.T) {
	t.Parallel()

	lock := NewInMemoryLock()
	ctx := context.Background()

	got, err := lock.TryAcquire(ctx, "m1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !got {
		t.Fatalf("expected first acquire to succeed")
	}

	got, err = lock.TryAcquire(ctx, "m1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if got {
		t.Fatalf("expected second acquire to fail while held")
	}

	// Independent match ids do not contend.
	got, err = lock.TryAcquire(ctx, "m2")
	if err != nil {
		t.Fatalf("acquire m2: %v", err)
	}
	if !got {
		t.Fatalf("expected m2 acquire to succeed")
	}

	lock.Release(ctx, "m1")
	got, err = lock.TryAcquire(ctx, "m1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !got {
		t.Fatalf("expected reacquire after release to succeed")
	}
}

func TestInMemoryLock_ReleaseWithoutAcquire_Safe(t *testing.T) {
	t.Parallel()

	lock := NewInMemoryLock()

	// Must not panic or corrupt state.
	lock.Release(context.Background(), "never-held")

	got, err := lock.TryAcquire(context.Background(), "never-held")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !got {
		t.Fatalf("expected acquire to succeed after stray release")
	}
}

func TestInMemoryLock_ConcurrentAcquire_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	lock := NewInMemoryLock()

	const n = 16
	var winners int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			got, err := lock.TryAcquire(context.Background(), "m1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if got {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestInMemoryLock_CancelledContext(t *testing.T) {
	t.Parallel()

	lock := NewInMemoryLock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := lock.TryAcquire(ctx, "m1"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
