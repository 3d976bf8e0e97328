// Package cache provides an optional Redis cache for redaction results,
// keyed by the salted input hash. Only redacted output and summary counts
// are stored; raw text never reaches Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config contains result cache configuration
type Config struct {
	RedisURL       string
	KeyPrefix      string
	DefaultTTL     time.Duration
	MaxConnections int
	MinIdleConns   int
}

// CachedResult is the cached form of a redaction outcome.
type CachedResult struct {
	RedactedText string         `json:"redactedText"`
	Summary      map[string]int `json:"summary"`
	CachedAt     time.Time      `json:"cachedAt"`
}

// ResultCache caches redaction results in Redis.
type ResultCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance counters
type cacheStats struct {
	hits   int64
	misses int64
}

// Stats is a snapshot of cache performance.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewResultCache creates a Redis-backed result cache.
func NewResultCache(config *Config, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	c := &ResultCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("default_ttl", config.DefaultTTL))

	return c, nil
}

// Get looks up a cached result by the salted input hash. A cache failure
// is reported as a miss; redaction proceeds normally.
func (c *ResultCache) Get(ctx context.Context, inputHash string) (*CachedResult, bool) {
	key := c.key(inputHash)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.stats.misses++
		return nil, false
	} else if err != nil {
		c.logger.Error("Cache lookup failed", zap.Error(err))
		c.stats.misses++
		return nil, false
	}

	var cached CachedResult
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Error("Failed to unmarshal cached result", zap.Error(err))
		c.client.Del(ctx, key)
		c.stats.misses++
		return nil, false
	}

	c.stats.hits++
	c.logger.Debug("Cache hit", zap.String("key", key))
	return &cached, true
}

// Store caches a redaction result under the salted input hash.
func (c *ResultCache) Store(ctx context.Context, inputHash string, result *CachedResult) error {
	result.CachedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := c.client.Set(ctx, c.key(inputHash), data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}

// Clear removes all cached results with this cache's prefix.
func (c *ResultCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// GetStats returns cache performance counters.
func (c *ResultCache) GetStats() Stats {
	stats := Stats{Hits: c.stats.hits, Misses: c.stats.misses}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *ResultCache) key(inputHash string) string {
	return fmt.Sprintf("%s:result:%s", c.config.KeyPrefix, inputHash)
}

// maskRedisURL masks credentials in a Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
