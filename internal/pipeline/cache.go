package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enrolytics/uidwatch/internal/anomaly"
	"github.com/enrolytics/uidwatch/internal/metrics"
)

// Cache stores scored sibling-set results keyed by (dataset version,
// level, parent, metric, period). Invalidation is coarse: every new
// ingestion bumps the dataset version, and Invalidate drops everything.
type Cache interface {
	Get(ctx context.Context, key string) (*anomaly.Result, bool)
	Set(ctx context.Context, key string, result *anomaly.Result)
	Invalidate(ctx context.Context)
}

// cacheKey builds the composite cache key.
func cacheKey(version string, parts ...string) string {
	return version + ":" + strings.Join(parts, ":")
}

// memoryCache is the default in-process cache.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*anomaly.Result
}

// NewMemoryCache creates the in-process score cache.
func NewMemoryCache() Cache {
	return &memoryCache{entries: make(map[string]*anomaly.Result)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*anomaly.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	if ok {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
	return r, ok
}

func (c *memoryCache) Set(_ context.Context, key string, result *anomaly.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

func (c *memoryCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*anomaly.Result)
}

// redisCache mirrors the score cache into Redis so repeated runs over
// the same dataset version survive process restarts. Failures degrade
// to cache misses, never to run failures.
type redisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed score cache.
func NewRedisCache(addr string, db int) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &redisCache{
		client: client,
		prefix: "uidwatch:scores:",
		ttl:    24 * time.Hour,
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (*anomaly.Result, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	var result anomaly.Result
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return &result, true
}

func (c *redisCache) Set(ctx context.Context, key string, result *anomaly.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis cache set failed")
	}
}

func (c *redisCache) Invalidate(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("Redis cache scan failed during invalidation")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis cache invalidation failed")
		}
	}
}
