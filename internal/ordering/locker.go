package ordering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed holder can block a diagram.
const DefaultLockTTL = 5 * time.Second

const lockRetryInterval = 5 * time.Millisecond

// ErrLockLost is returned by an unlock whose lease had already expired.
var ErrLockLost = errors.New("lock lease expired before release")

// Locker serializes a critical section per diagram.
type Locker interface {
	// Lock blocks until the diagram is held or ctx is done. The returned
	// function releases it.
	Lock(ctx context.Context, docID string) (func() error, error)
	// Lease is how long a held lock stays valid without a release. Zero
	// means it is held until released.
	Lease() time.Duration
}

func lockKey(docID string) string {
	return "lock:diagram:" + docID
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every process.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker creates a Redis lease lock.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &RedisLocker{client: client, ttl: ttl}
}

// Lease implements Locker.
func (l *RedisLocker) Lease() time.Duration {
	return l.ttl
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, docID string) (func() error, error) {
	key := lockKey(docID)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("%w: acquire lock: %w", ErrUnavailable, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	unlock := func() error {
		// release must run even if the caller's context is gone
		released, err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("%w: release lock: %w", ErrUnavailable, err)
		}

		if released == 0 {
			return ErrLockLost
		}

		return nil
	}

	return unlock, nil
}

// MemoryLocker is a keyed mutex for single process deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process keyed mutex.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot)}
}

// Lease implements Locker. A memory lock never expires.
func (l *MemoryLocker) Lease() time.Duration {
	return 0
}

// Lock implements Locker.
func (l *MemoryLocker) Lock(ctx context.Context, docID string) (func() error, error) {
	l.mu.Lock()

	slot, ok := l.slots[docID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[docID] = slot
	}

	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(docID, slot, false)

		return nil, ctx.Err()
	}

	var once sync.Once

	unlock := func() error {
		once.Do(func() { l.release(docID, slot, true) })

		return nil
	}

	return unlock, nil
}

func (l *MemoryLocker) release(docID string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, docID)
	}
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*MemoryLocker)(nil)
)
