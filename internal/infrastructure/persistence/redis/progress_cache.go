package redis

import (
	"context"
	"errors"
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache keeps the latest acknowledged completion state per lesson
// key so dashboard reads don't hit PostgreSQL on every page load. The
// database row stays authoritative; the cache is refreshed on heartbeat
// acks and bounded by TTL.
type ProgressCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewProgressCache creates a ProgressCache.
func NewProgressCache(cache *Cache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgressCache
	}
	return &ProgressCache{cache: cache, ttl: ttl}
}

// cachedProgress is the stored shape.
type cachedProgress struct {
	PercentageWatched float64   `json:"percentage_watched"`
	Status            string    `json:"status"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// progressKey returns the cache key for a lesson key.
func progressKey(key shared.LessonKey) string {
	return PrefixProgress + key.String()
}

// Put stores an acknowledged completion state.
func (p *ProgressCache) Put(ctx context.Context, key shared.LessonKey, ack progress.Ack, now time.Time) error {
	return p.cache.Set(ctx, progressKey(key), cachedProgress{
		PercentageWatched: ack.PercentageWatched.Float64(),
		Status:            string(ack.Status),
		UpdatedAt:         now,
	}, p.ttl)
}

// Get returns the cached completion state for a lesson key.
// The boolean is false on a miss.
func (p *ProgressCache) Get(ctx context.Context, key shared.LessonKey) (progress.Ack, bool, error) {
	var cached cachedProgress
	err := p.cache.Get(ctx, progressKey(key), &cached)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return progress.Ack{}, false, nil
		}
		return progress.Ack{}, false, err
	}

	return progress.Ack{
		Success:           true,
		PercentageWatched: shared.NewPercentage(cached.PercentageWatched),
		Status:            progress.Status(cached.Status),
	}, true, nil
}

// Invalidate drops the cached state for a lesson key.
func (p *ProgressCache) Invalidate(ctx context.Context, key shared.LessonKey) error {
	return p.cache.Delete(ctx, progressKey(key))
}
