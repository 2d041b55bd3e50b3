package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenlms/integrity-engine/internal/domain/quota"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// QuotaStore implements quota.Store on Redis. The rolling window lives in a
// sorted set scored by request time, the lifetime count in a plain counter
// key that is only ever raised. Multiple tabs racing between Load and Save
// over-admit by at most one request per burst, which the quota design
// tolerates.
type QuotaStore struct {
	cache      *Cache
	windowSize time.Duration
}

// NewQuotaStore creates a QuotaStore. The window size sets the sorted set's
// expiry so abandoned subjects clean themselves up.
func NewQuotaStore(cache *Cache, windowSize time.Duration) *QuotaStore {
	if windowSize <= 0 {
		windowSize = quota.DefaultWindowSize
	}
	return &QuotaStore{cache: cache, windowSize: windowSize}
}

// windowKey returns the sorted set key for a subject.
func windowKey(subjectID string) string {
	return PrefixQuotaWindow + subjectID
}

// lifetimeKey returns the counter key for a subject.
func lifetimeKey(subjectID string) string {
	return PrefixQuotaLifetime + subjectID
}

// windowMember encodes one request time as a sorted set entry. The member
// carries the exact nanosecond timestamp; the millisecond score, which
// float64 represents exactly, only orders and prunes the set.
func windowMember(ts time.Time) redis.Z {
	return redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: strconv.FormatInt(ts.UnixNano(), 10),
	}
}

// parseWindowMember reverses windowMember without loss.
func parseWindowMember(member string) (time.Time, error) {
	nanos, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse quota window entry %q: %w", member, err)
	}
	return time.Unix(0, nanos), nil
}

// Load implements quota.Store. Expired window entries are dropped in the
// same round trip that reads the remainder. Request times are read from
// the members, which hold the exact nanosecond timestamps; the float64
// scores only order and prune the set.
func (s *QuotaStore) Load(ctx context.Context, subjectID string) (*quota.State, error) {
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-s.windowSize).UnixMilli(), 10)

	pipe := s.cache.Client().TxPipeline()
	pipe.ZRemRangeByScore(ctx, windowKey(subjectID), "-inf", "("+cutoff)
	windowCmd := pipe.ZRange(ctx, windowKey(subjectID), 0, -1)
	lifetimeCmd := pipe.Get(ctx, lifetimeKey(subjectID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load quota state: %w", err)
	}

	members, err := windowCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("read quota window: %w", err)
	}

	state := quota.NewState(subjectID)
	for _, member := range members {
		ts, err := parseWindowMember(member)
		if err != nil {
			return nil, err
		}
		state.WindowRequests = append(state.WindowRequests, ts)
	}

	if total, err := lifetimeCmd.Int(); err == nil {
		state.TotalUsage = total
	} else if err != redis.Nil {
		return nil, fmt.Errorf("read quota lifetime: %w", err)
	}

	return state, nil
}

// Save implements quota.Store. The window is rewritten wholesale (it holds
// at most the window cap of entries); the lifetime counter only moves up so
// a stale writer cannot refund spent quota.
func (s *QuotaStore) Save(ctx context.Context, state *quota.State) error {
	pipe := s.cache.Client().TxPipeline()

	key := windowKey(state.SubjectID)
	pipe.Del(ctx, key)
	if len(state.WindowRequests) > 0 {
		members := make([]redis.Z, len(state.WindowRequests))
		for i, ts := range state.WindowRequests {
			members[i] = windowMember(ts)
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, s.windowSize*2)
	}

	// Lifetime usage never resets, so a plain SET would let a racing stale
	// load shrink it. The counter only raises.
	script := redis.NewScript(`
		local current = tonumber(redis.call('GET', KEYS[1]) or '0')
		local proposed = tonumber(ARGV[1])
		if proposed > current then
			redis.call('SET', KEYS[1], proposed)
		end
		return redis.call('GET', KEYS[1])
	`)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save quota window: %w", err)
	}
	if err := script.Run(ctx, s.cache.Client(), []string{lifetimeKey(state.SubjectID)}, state.TotalUsage).Err(); err != nil {
		return fmt.Errorf("save quota lifetime: %w", err)
	}
	return nil
}
