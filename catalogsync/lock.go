package catalogsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"github.com/bsm/redislock"
)

// ErrNotLockOwner is returned when a release or extend presents a token
// that does not own the lock (expired and reacquired by someone else, or
// never held).
var ErrNotLockOwner = errors.New("not lock owner")

// SyncLocker is the cluster-wide mutual-exclusion primitive guarding the
// master sync. Every acquired lock carries a TTL so a crashed holder can
// never wedge the system, and release/extend are conditioned on the owner
// token so a stale holder cannot disturb a lock someone else reacquired.
type SyncLocker interface {
	Acquire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key string, token string, ttl time.Duration) error
	Release(ctx context.Context, key string, token string) error
}

// RedisLocker implements SyncLocker on bsm/redislock. The redislock token
// is the caller's owner token, so the ownership check runs on the Redis
// side. A nil client defers to the shared lock client, which is only set
// once Redis is connected.
type RedisLocker struct {
	client *redislock.Client

	mu   sync.Mutex
	held map[string]*redislock.Lock
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		held:   map[string]*redislock.Lock{},
	}
}

func (l *RedisLocker) lockClient() (*redislock.Client, error) {
	if l.client != nil {
		return l.client, nil
	}
	if c := config.GetRedisLock(); c != nil {
		return c, nil
	}
	return nil, errors.New("redis lock client is not connected")
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	client, err := l.lockClient()
	if err != nil {
		return false, err
	}
	lock, err := client.Obtain(ctx, key, ttl, &redislock.Options{Token: token})
	if err == redislock.ErrNotObtained {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.held[key] = lock
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLocker) Extend(ctx context.Context, key string, token string, ttl time.Duration) error {
	lock := l.heldLock(key, token)
	if lock == nil {
		return ErrNotLockOwner
	}
	err := lock.Refresh(ctx, ttl, nil)
	if err == redislock.ErrNotObtained || err == redislock.ErrLockNotHeld {
		return ErrNotLockOwner
	}
	return err
}

func (l *RedisLocker) Release(ctx context.Context, key string, token string) error {
	lock := l.heldLock(key, token)
	if lock == nil {
		return ErrNotLockOwner
	}
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()

	err := lock.Release(ctx)
	if err == redislock.ErrLockNotHeld {
		return ErrNotLockOwner
	}
	return err
}

func (l *RedisLocker) heldLock(key string, token string) *redislock.Lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.held[key]
	if lock == nil || lock.Token() != token {
		return nil
	}
	return lock
}

// MemoryLocker emulates the distributed lock for single-process
// deployments and tests: same TTL and ownership-token contract, in-memory
// state. The orchestrator's logic is identical against either
// implementation.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLockEntry
	now   func() time.Time
}

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: map[string]memoryLockEntry{},
		now:   time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("lock ttl must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && entry.expiresAt.After(now) {
		return false, nil
	}
	l.locks[key] = memoryLockEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Extend(ctx context.Context, key string, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.locks[key]
	if !ok || entry.token != token || !entry.expiresAt.After(now) {
		return ErrNotLockOwner
	}
	entry.expiresAt = now.Add(ttl)
	l.locks[key] = entry
	return nil
}

func (l *MemoryLocker) Release(ctx context.Context, key string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok || entry.token != token || !entry.expiresAt.After(l.now()) {
		return ErrNotLockOwner
	}
	delete(l.locks, key)
	return nil
}
