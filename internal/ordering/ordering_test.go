package ordering_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/ordering"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func sequencers(t *testing.T) map[string]ordering.Sequencer {
	t.Helper()

	_, client := newRedis(t)

	return map[string]ordering.Sequencer{
		"redis":  ordering.NewRedisSequencer(client),
		"memory": ordering.NewMemorySequencer(zerolog.Nop()),
	}
}

func TestSequencer_ConcurrentNextIsGapless(t *testing.T) {
	t.Parallel()

	for name, seq := range sequencers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			const n = 50

			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				got []int64
			)

			for range n {
				wg.Add(1)

				go func() {
					defer wg.Done()

					v, err := seq.Next(context.Background(), "doc1")
					if err != nil {
						return
					}

					mu.Lock()
					got = append(got, v)
					mu.Unlock()
				}()
			}

			wg.Wait()

			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
			require.Len(t, got, n)

			for i, v := range got {
				require.Equal(t, int64(i+1), v)
			}
		})
	}
}

func TestSequencer_PerDocumentCounters(t *testing.T) {
	t.Parallel()

	for name, seq := range sequencers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			a, err := seq.Next(ctx, "a")
			require.NoError(t, err)

			b, err := seq.Next(ctx, "b")
			require.NoError(t, err)

			require.Equal(t, int64(1), a)
			require.Equal(t, int64(1), b)
		})
	}
}

func TestSequencer_EnsureAtLeast(t *testing.T) {
	t.Parallel()

	for name, seq := range sequencers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			require.NoError(t, seq.EnsureAtLeast(ctx, "doc1", 41))

			next, err := seq.Next(ctx, "doc1")
			require.NoError(t, err)
			require.Equal(t, int64(42), next)

			// never lowers the counter
			require.NoError(t, seq.EnsureAtLeast(ctx, "doc1", 3))

			next, err = seq.Next(ctx, "doc1")
			require.NoError(t, err)
			require.Equal(t, int64(43), next)
		})
	}
}

func TestRedisSequencer_Unavailable(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	seq := ordering.NewRedisSequencer(client)

	mr.Close()

	_, err := seq.Next(context.Background(), "doc1")
	if !errors.Is(err, ordering.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	require.Equal(t, apperr.CodeUnavailable, apperr.Code(err))
}

func TestLedger_MarkSeenOnce(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)

	ledgers := map[string]ordering.Ledger{
		"redis":  ordering.NewRedisLedger(client, time.Hour),
		"memory": ordering.NewMemoryLedger(zerolog.Nop(), time.Hour),
	}

	for name, ledger := range ledgers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			first, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
			require.NoError(t, err)
			require.True(t, first)

			again, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
			require.NoError(t, err)
			require.False(t, again)

			other, err := ledger.MarkSeen(ctx, "doc2", "c1", 1)
			require.NoError(t, err)
			require.True(t, other)

			require.NoError(t, ledger.Forget(ctx, "doc1", "c1", 1))

			retried, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
			require.NoError(t, err)
			require.True(t, retried)
		})
	}
}

func TestLedger_SeparatorInIDs(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)

	ledgers := map[string]ordering.Ledger{
		"redis":  ordering.NewRedisLedger(client, time.Hour),
		"memory": ordering.NewMemoryLedger(zerolog.Nop(), time.Hour),
	}

	tuples := []struct {
		docID    string
		clientID string
		localSeq int64
	}{
		{"a", "b:c", 1},
		{"a:b", "c", 1},
		{"a:b:c", "", 1},
		{"a", "b:c:1", 1},
		{"a:1:b", "c", 1},
		{"a", "1:b", 1},
	}

	for name, ledger := range ledgers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			for _, tt := range tuples {
				fresh, err := ledger.MarkSeen(ctx, tt.docID, tt.clientID, tt.localSeq)
				require.NoError(t, err)
				require.True(t, fresh, "doc %q client %q seq %d", tt.docID, tt.clientID, tt.localSeq)
			}

			for _, tt := range tuples {
				again, err := ledger.MarkSeen(ctx, tt.docID, tt.clientID, tt.localSeq)
				require.NoError(t, err)
				require.False(t, again, "doc %q client %q seq %d", tt.docID, tt.clientID, tt.localSeq)
			}
		})
	}
}

func TestLedger_ConcurrentMarkSeen(t *testing.T) {
	t.Parallel()

	_, client := newRedis(t)
	ledger := ordering.NewRedisLedger(client, time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := ledger.MarkSeen(context.Background(), "doc1", "c1", 7)
			if err == nil && ok {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	require.Equal(t, 1, fresh)
}

func TestRedisLedger_Expires(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	ledger := ordering.NewRedisLedger(client, time.Minute)
	ctx := context.Background()

	_, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	fresh, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestMemoryLedger_Expires(t *testing.T) {
	t.Parallel()

	ledger := ordering.NewMemoryLedger(zerolog.Nop(), 20*time.Millisecond)
	ctx := context.Background()

	_, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	fresh, err := ledger.MarkSeen(ctx, "doc1", "c1", 1)
	require.NoError(t, err)
	require.True(t, fresh)
}
