package ordering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultDedupTTL bounds how long an idempotency key is remembered.
const DefaultDedupTTL = time.Hour

// Ledger records which (client, localSeq) pairs a diagram has accepted.
type Ledger interface {
	// MarkSeen returns true exactly once per key until the TTL elapses.
	MarkSeen(ctx context.Context, docID, clientID string, localSeq int64) (bool, error)
	// Forget releases a key whose operation was abandoned before it was
	// persisted, so a retry is processed again.
	Forget(ctx context.Context, docID, clientID string, localSeq int64) error
}

// idemKey length-prefixes the free-form ids so distinct tuples never share
// a key.
func idemKey(docID, clientID string, localSeq int64) string {
	var b strings.Builder

	b.WriteString("idem:diagram:")
	b.WriteString(strconv.Itoa(len(docID)))
	b.WriteByte(':')
	b.WriteString(docID)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(len(clientID)))
	b.WriteByte(':')
	b.WriteString(clientID)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(localSeq, 10))

	return b.String()
}

// RedisLedger stores one expiring key per mutation.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLedger creates a Redis backed ledger.
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}

	return &RedisLedger{client: client, ttl: ttl}
}

// MarkSeen implements Ledger.
func (l *RedisLedger) MarkSeen(ctx context.Context, docID, clientID string, localSeq int64) (bool, error) {
	fresh, err := l.client.SetNX(ctx, idemKey(docID, clientID, localSeq), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: mark seen: %w", ErrUnavailable, err)
	}

	return fresh, nil
}

// Forget implements Ledger.
func (l *RedisLedger) Forget(ctx context.Context, docID, clientID string, localSeq int64) error {
	if err := l.client.Del(ctx, idemKey(docID, clientID, localSeq)).Err(); err != nil {
		return fmt.Errorf("%w: forget: %w", ErrUnavailable, err)
	}

	return nil
}

// MemoryLedger is an in-process ledger for single process deployments.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	sweepAt time.Time
}

// NewMemoryLedger creates an in-process ledger.
func NewMemoryLedger(logger zerolog.Logger, ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}

	logger.Warn().
		Str("component", "ledger").
		Msg("using in-process dedup ledger: retries are only detected within this process")

	return &MemoryLedger{ttl: ttl, entries: make(map[string]time.Time)}
}

// MarkSeen implements Ledger.
func (l *MemoryLedger) MarkSeen(_ context.Context, docID, clientID string, localSeq int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	key := idemKey(docID, clientID, localSeq)
	if expires, ok := l.entries[key]; ok && now.Before(expires) {
		return false, nil
	}

	l.entries[key] = now.Add(l.ttl)

	return true, nil
}

// Forget implements Ledger.
func (l *MemoryLedger) Forget(_ context.Context, docID, clientID string, localSeq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, idemKey(docID, clientID, localSeq))

	return nil
}

// sweep drops expired keys at most once per TTL. Callers hold mu.
func (l *MemoryLedger) sweep(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}

	for key, expires := range l.entries {
		if !now.Before(expires) {
			delete(l.entries, key)
		}
	}

	l.sweepAt = now.Add(l.ttl)
}

var (
	_ Ledger = (*RedisLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
