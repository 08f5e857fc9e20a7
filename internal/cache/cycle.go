package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"automatic-succotash/internal/domain"
)

const latestCycleKey = "trade:cycle:latest"

// RedisClient is the slice of the redis API the cycle cache uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// CycleCache holds the latest cycle result for the read surfaces. Redis is
// the shared copy; the in-memory copy answers when Redis is absent or cold.
type CycleCache struct {
	client RedisClient
	ttl    time.Duration

	mu     sync.RWMutex
	latest *domain.CycleResult
}

func NewCycleCache(client RedisClient, ttl time.Duration) *CycleCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CycleCache{client: client, ttl: ttl}
}

// Publish stores the result in memory and, when available, in Redis. A
// Redis write failure is logged, never surfaced: the cycle already ran.
func (c *CycleCache) Publish(ctx context.Context, result domain.CycleResult) {
	c.mu.Lock()
	copied := result
	c.latest = &copied
	c.mu.Unlock()

	if c.client == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		log.Printf("cycle cache: marshal result: %v", err)
		return
	}
	if err := c.client.Set(ctx, latestCycleKey, raw, c.ttl).Err(); err != nil {
		log.Printf("cycle cache: redis write failed: %v", err)
	}
}

// Latest returns the newest cycle result, preferring Redis so replicas see
// each other's cycles. False when no cycle has run yet.
func (c *CycleCache) Latest(ctx context.Context) (domain.CycleResult, bool) {
	if c.client != nil {
		raw, err := c.client.Get(ctx, latestCycleKey).Bytes()
		if err == nil {
			var result domain.CycleResult
			if err := json.Unmarshal(raw, &result); err == nil {
				return result, true
			}
			log.Printf("cycle cache: corrupt cached result, falling back to memory")
		} else if err != redis.Nil {
			log.Printf("cycle cache: redis read failed: %v", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return domain.CycleResult{}, false
	}
	return *c.latest, true
}
