package ordering

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/apperr"
)

// ErrUnavailable wraps failures of the shared coordination backend.
var ErrUnavailable = fmt.Errorf("ordering backend: %w", apperr.ErrStoreUnavailable)

// Sequencer hands out strictly increasing, gapless sequence numbers per
// diagram, starting at 1.
type Sequencer interface {
	Next(ctx context.Context, docID string) (int64, error)
	// EnsureAtLeast raises the counter to floor if it is lower.
	EnsureAtLeast(ctx context.Context, docID string, floor int64) error
}

func seqKey(docID string) string {
	return "seq:diagram:" + docID
}

var ensureAtLeastScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return cur
`)

// RedisSequencer keeps one counter per diagram in Redis so every process
// shares the same order.
type RedisSequencer struct {
	client redis.UniversalClient
}

// NewRedisSequencer creates a Redis backed sequencer.
func NewRedisSequencer(client redis.UniversalClient) *RedisSequencer {
	return &RedisSequencer{client: client}
}

// Next increments and returns the diagram counter.
func (s *RedisSequencer) Next(ctx context.Context, docID string) (int64, error) {
	seq, err := s.client.Incr(ctx, seqKey(docID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr: %w", ErrUnavailable, err)
	}

	return seq, nil
}

// EnsureAtLeast implements Sequencer.
func (s *RedisSequencer) EnsureAtLeast(ctx context.Context, docID string, floor int64) error {
	if err := ensureAtLeastScript.Run(ctx, s.client, []string{seqKey(docID)}, floor).Err(); err != nil {
		return fmt.Errorf("%w: ensure counter: %w", ErrUnavailable, err)
	}

	return nil
}

// MemorySequencer is an in-process sequencer. Counters are not shared
// between processes and restart from zero, so it is only valid for a single
// process deployment whose log is empty or re-seeded with EnsureAtLeast.
type MemorySequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemorySequencer creates an in-process sequencer and logs that it must
// not be used by more than one process.
func NewMemorySequencer(logger zerolog.Logger) *MemorySequencer {
	logger.Warn().
		Str("component", "sequencer").
		Msg("using in-process sequencer: ordering is only guaranteed within this process")

	return &MemorySequencer{counters: make(map[string]int64)}
}

// Next implements Sequencer.
func (s *MemorySequencer) Next(_ context.Context, docID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[docID]++

	return s.counters[docID], nil
}

// EnsureAtLeast implements Sequencer.
func (s *MemorySequencer) EnsureAtLeast(_ context.Context, docID string, floor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters[docID] < floor {
		s.counters[docID] = floor
	}

	return nil
}

var (
	_ Sequencer = (*RedisSequencer)(nil)
	_ Sequencer = (*MemorySequencer)(nil)
)
