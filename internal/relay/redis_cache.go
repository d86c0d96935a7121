package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gossipcore/relay/internal/person"
)

// RedisScoreCache caches BestRelays results so a busy picker pass does not
// repeatedly hit SQLite for the same identity. It is optional: SQLiteStore
// works correctly with cache set to nil, just slower under load.
type RedisScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisScoreCache connects to addr and returns a cache with the given TTL.
func NewRedisScoreCache(addr string, ttl time.Duration) *RedisScoreCache {
	return &RedisScoreCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func cacheKey(pk person.PublicKey, dir Direction) string {
	return fmt.Sprintf("gossipcore:best_relays:%d:%s", dir, pk.String())
}

// Get returns a cached score list, if present and unexpired.
func (c *RedisScoreCache) Get(ctx context.Context, pk person.PublicKey, dir Direction) ([]ScoredRelay, bool) {
	val, err := c.client.Get(ctx, cacheKey(pk, dir)).Result()
	if err != nil {
		return nil, false
	}
	return decodeScoreList(val), true
}

// Set stores a score list with the cache's configured TTL.
func (c *RedisScoreCache) Set(ctx context.Context, pk person.PublicKey, dir Direction, scores []ScoredRelay) {
	c.client.Set(ctx, cacheKey(pk, dir), encodeScoreList(scores), c.ttl)
}

// Invalidate drops any cached entry for (pubkey, direction).
func (c *RedisScoreCache) Invalidate(ctx context.Context, pk person.PublicKey, dir Direction) {
	c.client.Del(ctx, cacheKey(pk, dir))
}

// Close releases the Redis connection pool.
func (c *RedisScoreCache) Close() error {
	return c.client.Close()
}

// encodeScoreList/decodeScoreList use a flat "url=score,url=score" wire
// format instead of JSON: this cache only ever holds a short, flat list
// and a dependency on encoding/json is not worth adding for it.
func encodeScoreList(scores []ScoredRelay) string {
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		parts = append(parts, fmt.Sprintf("%s=%d", s.URL, s.Score))
	}
	return strings.Join(parts, ",")
}

func decodeScoreList(val string) []ScoredRelay {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]ScoredRelay, 0, len(parts))
	for _, p := range parts {
		idx := strings.LastIndex(p, "=")
		if idx < 0 {
			continue
		}
		score, err := strconv.ParseUint(p[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ScoredRelay{URL: Url(p[:idx]), Score: score})
	}
	return out
}
