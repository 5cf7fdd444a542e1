package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/traits/internal/model"
)

// ─── Redis-backed search cache ──────────────────────────────
//
// Entries are namespaced by a generation counter. Invalidate bumps the
// counter, which orphans every older entry at once; orphans expire by TTL.

const (
	redisSearchGenKey      = "search:gen"
	redisSearchKeyPrefix   = "search:"
	DefaultSearchCacheTTL  = 30 * time.Second
	DefaultSearchCacheSize = 1024
)

// RedisSearchCache caches ranked itineraries in Redis.
type RedisSearchCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisSearchCache creates a cache whose entries live for ttl.
func NewRedisSearchCache(client *redis.Client, ttl time.Duration) *RedisSearchCache {
	if ttl <= 0 {
		ttl = DefaultSearchCacheTTL
	}
	return &RedisSearchCache{redis: client, ttl: ttl}
}

// Generation returns the current generation, or -1 when Redis is unreachable.
func (c *RedisSearchCache) Generation(ctx context.Context) int64 {
	gen, err := c.redis.Get(ctx, redisSearchGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("[search-cache] WARNING: generation lookup failed: %v", err)
		return -1
	}
	return gen
}

func entryKey(gen int64, key string) string {
	return redisSearchKeyPrefix + strconv.FormatInt(gen, 10) + ":" + key
}

// Get returns the result cached for key under gen. Redis errors count as a miss.
func (c *RedisSearchCache) Get(ctx context.Context, gen int64, key string) ([]model.Itinerary, bool) {
	if gen < 0 {
		return nil, false
	}
	k := entryKey(gen, key)
	body, err := c.redis.Get(ctx, k).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[search-cache] WARNING: get %s failed: %v", k, err)
		}
		return nil, false
	}
	var its []model.Itinerary
	if err := json.Unmarshal(body, &its); err != nil {
		log.Printf("[search-cache] WARNING: dropping undecodable entry %s: %v", k, err)
		return nil, false
	}
	return its, true
}

// Set stores the result for key under gen (fire-and-forget, errors are
// logged). After an Invalidate the entry is unreachable and expires by TTL.
func (c *RedisSearchCache) Set(ctx context.Context, gen int64, key string, its []model.Itinerary) {
	if gen < 0 {
		return
	}
	k := entryKey(gen, key)
	body, err := json.Marshal(its)
	if err != nil {
		log.Printf("[search-cache] WARNING: encode %s: %v", k, err)
		return
	}
	if err := c.redis.Set(ctx, k, body, c.ttl).Err(); err != nil {
		log.Printf("[search-cache] WARNING: set %s failed: %v", k, err)
	}
}

// Invalidate drops every cached result.
func (c *RedisSearchCache) Invalidate(ctx context.Context) {
	if err := c.redis.Incr(ctx, redisSearchGenKey).Err(); err != nil {
		log.Printf("[search-cache] WARNING: invalidate failed: %v", err)
	}
}

// ─── In-process search cache ────────────────────────────────

// LocalSearchCache is a bounded LRU cache with per-entry expiry.
type LocalSearchCache struct {
	lru gcache.Cache
	gen atomic.Int64
}

// NewLocalSearchCache creates an LRU cache of at most size entries.
func NewLocalSearchCache(size int, ttl time.Duration) *LocalSearchCache {
	if size <= 0 {
		size = DefaultSearchCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultSearchCacheTTL
	}
	return &LocalSearchCache{lru: gcache.New(size).LRU().Expiration(ttl).Build()}
}

func (c *LocalSearchCache) Generation(context.Context) int64 {
	return c.gen.Load()
}

func (c *LocalSearchCache) Get(_ context.Context, gen int64, key string) ([]model.Itinerary, bool) {
	if gen != c.gen.Load() {
		return nil, false
	}
	v, err := c.lru.Get(entryKey(gen, key))
	if err != nil {
		return nil, false
	}
	its, ok := v.([]model.Itinerary)
	return its, ok
}

// Set drops the write when an Invalidate happened since gen was read.
func (c *LocalSearchCache) Set(_ context.Context, gen int64, key string, its []model.Itinerary) {
	if gen != c.gen.Load() {
		return
	}
	k := entryKey(gen, key)
	if err := c.lru.Set(k, its); err != nil {
		log.Printf("[search-cache] WARNING: local set %s failed: %v", k, err)
	}
}

func (c *LocalSearchCache) Invalidate(_ context.Context) {
	c.gen.Add(1)
	c.lru.Purge()
}
