package catalogsync

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLocker_ExactlyOneConcurrentHolder(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := locker.Acquire(ctx, "catalog:sync:master", string(rune('a'+n)), time.Minute)
			if err != nil {
				t.Errorf("Acquire error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly one holder, got %d", acquired)
	}
}

func TestMemoryLocker_ReleaseRequiresOwnerToken(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "k", "owner", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}

	if err := locker.Release(ctx, "k", "intruder"); err != ErrNotLockOwner {
		t.Fatalf("expected ErrNotLockOwner for wrong token, got %v", err)
	}
	// The lock must still be held after the rejected release.
	if ok, _ := locker.Acquire(ctx, "k", "other", time.Minute); ok {
		t.Fatal("lock was lost after rejected release")
	}

	if err := locker.Release(ctx, "k", "owner"); err != nil {
		t.Fatalf("owner release failed: %v", err)
	}
	if ok, _ := locker.Acquire(ctx, "k", "other", time.Minute); !ok {
		t.Fatal("lock not acquirable after owner release")
	}
}

func TestMemoryLocker_ExpiredLockIsAcquirable(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	now := time.Now()
	locker.now = func() time.Time { return now }

	if ok, _ := locker.Acquire(ctx, "k", "first", 30*time.Second); !ok {
		t.Fatal("initial acquire failed")
	}

	now = now.Add(31 * time.Second)

	if ok, _ := locker.Acquire(ctx, "k", "second", 30*time.Second); !ok {
		t.Fatal("expected expired lock to be acquirable")
	}
	// The stale first holder must not be able to release or extend.
	if err := locker.Release(ctx, "k", "first"); err != ErrNotLockOwner {
		t.Fatalf("expected ErrNotLockOwner for stale holder, got %v", err)
	}
	if err := locker.Extend(ctx, "k", "first", time.Minute); err != ErrNotLockOwner {
		t.Fatalf("expected ErrNotLockOwner on stale extend, got %v", err)
	}
}

func TestMemoryLocker_ExtendPushesExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	now := time.Now()
	locker.now = func() time.Time { return now }

	if ok, _ := locker.Acquire(ctx, "k", "owner", 30*time.Second); !ok {
		t.Fatal("initial acquire failed")
	}

	now = now.Add(20 * time.Second)
	if err := locker.Extend(ctx, "k", "owner", 30*time.Second); err != nil {
		t.Fatalf("Extend error: %v", err)
	}

	// 25s past the original expiry, still inside the extended lease.
	now = now.Add(25 * time.Second)
	if ok, _ := locker.Acquire(ctx, "k", "other", time.Minute); ok {
		t.Fatal("extended lock was acquirable before the new expiry")
	}
}

func TestMemoryLocker_RejectsNonPositiveTTL(t *testing.T) {
	locker := NewMemoryLocker()
	if _, err := locker.Acquire(context.Background(), "k", "owner", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
