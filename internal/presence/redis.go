package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/online-diagrams/internal/apperr"
)

// ErrUnavailable wraps presence backend failures.
var ErrUnavailable = fmt.Errorf("presence directory: %w", apperr.ErrStoreUnavailable)

// Both keys share a hash tag so scripts touching them stay in one cluster
// slot.
func hashKey(docID string) string   { return "presence:diagram:{" + docID + "}" }
func expiryKey(docID string) string { return "presence:diagram:{" + docID + "}:expiry" }

var touchScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

var sweepScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
if #expired > 0 then
  redis.call('ZREM', KEYS[2], unpack(expired))
  redis.call('HDEL', KEYS[1], unpack(expired))
end
return expired
`)

// RedisDirectory keeps presence in a hash of user to JSON entry plus a
// sorted set of expiry times, shared by every process.
type RedisDirectory struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisDirectory creates a Redis backed directory.
func NewRedisDirectory(client redis.UniversalClient, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisDirectory{client: client, ttl: ttl, now: time.Now}
}

// keys outlive entries so an idle diagram eventually disappears.
func (d *RedisDirectory) keyTTL() time.Duration {
	return 4 * d.ttl
}

// Set implements Directory.
func (d *RedisDirectory) Set(ctx context.Context, docID string, entry Entry) error {
	entry.ExpiresAt = time.Time{}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	expires := d.now().Add(d.ttl).UnixMilli()

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey(docID), entry.UserID, raw)
		pipe.ZAdd(ctx, expiryKey(docID), redis.Z{Score: float64(expires), Member: entry.UserID})
		pipe.PExpire(ctx, hashKey(docID), d.keyTTL())
		pipe.PExpire(ctx, expiryKey(docID), d.keyTTL())

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: set: %w", ErrUnavailable, err)
	}

	return nil
}

// Touch implements Directory.
func (d *RedisDirectory) Touch(ctx context.Context, docID, userID, email string) error {
	raw, err := json.Marshal(Entry{UserID: userID, Email: email})
	if err != nil {
		return err
	}

	expires := d.now().Add(d.ttl).UnixMilli()

	err = touchScript.Run(ctx, d.client,
		[]string{hashKey(docID), expiryKey(docID)},
		userID, raw, expires, d.keyTTL().Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: touch: %w", ErrUnavailable, err)
	}

	return nil
}

// Remove implements Directory.
func (d *RedisDirectory) Remove(ctx context.Context, docID, userID string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, hashKey(docID), userID)
		pipe.ZRem(ctx, expiryKey(docID), userID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: remove: %w", ErrUnavailable, err)
	}

	return nil
}

// List implements Directory.
func (d *RedisDirectory) List(ctx context.Context, docID string) ([]Entry, error) {
	live, err := d.client.ZRangeByScoreWithScores(ctx, expiryKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(d.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}

	result := []Entry{}
	if len(live) == 0 {
		return result, nil
	}

	ids := make([]string, len(live))
	for i, z := range live {
		ids[i], _ = z.Member.(string)
	}

	values, err := d.client.HMGet(ctx, hashKey(docID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}

		e.UserID = ids[i]
		e.ExpiresAt = time.UnixMilli(int64(live[i].Score))
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })

	return result, nil
}

// Sweep implements Directory. The script removes and reports expired users
// atomically, so concurrent sweepers never report the same user twice.
func (d *RedisDirectory) Sweep(ctx context.Context, docID string) ([]string, error) {
	removed, err := sweepScript.Run(ctx, d.client,
		[]string{hashKey(docID), expiryKey(docID)},
		d.now().UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: sweep: %w", ErrUnavailable, err)
	}

	sort.Strings(removed)

	return removed, nil
}

var _ Directory = (*RedisDirectory)(nil)
