package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/etl"
)

// keyHashLength is how much of the payload hash goes into a key
const keyHashLength = 32

// ResultCache keeps redacted payloads in Redis, keyed by payload hash
type ResultCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewResultCache connects to Redis and verifies the connection
func NewResultCache(config *Config, logger *zap.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	cache := &ResultCache{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Lookup returns the cached redaction for payloadHash. Redis failures and
// corrupt entries count as misses.
func (rc *ResultCache) Lookup(ctx context.Context, payloadHash string) (etl.CachedResult, bool) {
	key := rc.resultKey(payloadHash)

	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		rc.misses.Add(1)
		return etl.CachedResult{}, false
	} else if err != nil {
		rc.errors.Add(1)
		rc.logger.Warn("Cache lookup failed", zap.Error(err))
		return etl.CachedResult{}, false
	}

	var entry cachedEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.PayloadHash != payloadHash {
		rc.errors.Add(1)
		rc.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		rc.client.Del(ctx, key)
		return etl.CachedResult{}, false
	}

	rc.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", key))
	return entry.CachedResult, true
}

// Store caches one redaction
func (rc *ResultCache) Store(ctx context.Context, result etl.CachedResult) error {
	data, err := rc.encode(result)
	if err != nil {
		return err
	}

	if err := rc.client.Set(ctx, rc.resultKey(result.PayloadHash), data, rc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}
	return nil
}

// StoreBatch caches many redactions in one Redis pipeline
func (rc *ResultCache) StoreBatch(ctx context.Context, results []etl.CachedResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	queued := 0
	for _, result := range results {
		data, err := rc.encode(result)
		if err != nil {
			rc.logger.Error("Failed to marshal result for batch caching", zap.Error(err))
			continue
		}
		pipe.Set(ctx, rc.resultKey(result.PayloadHash), data, rc.config.DefaultTTL)
		queued++
	}
	if queued == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	rc.logger.Debug("Batch cache operation completed", zap.Int("cached_results", queued))
	return nil
}

func (rc *ResultCache) encode(result etl.CachedResult) ([]byte, error) {
	data, err := json.Marshal(cachedEntry{
		CachedResult: result,
		CachedAt:     time.Now(),
		TTL:          int64(rc.config.DefaultTTL.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result for caching: %w", err)
	}
	return data, nil
}

// GetStats returns hit counters together with Redis memory and key counts
func (rc *ResultCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   rc.hits.Load(),
		Misses: rc.misses.Load(),
		Errors: rc.errors.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := rc.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := rc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every key under the configured prefix
func (rc *ResultCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.config.KeyPrefix+":redact:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func (rc *ResultCache) resultKey(payloadHash string) string {
	return resultKey(rc.config.KeyPrefix, payloadHash)
}

func resultKey(prefix, payloadHash string) string {
	if len(payloadHash) > keyHashLength {
		payloadHash = payloadHash[:keyHashLength]
	}
	return prefix + ":redact:" + payloadHash
}

// parseUsedMemory extracts used_memory from an INFO reply
func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL hides the password of a Redis URL for logging
func maskRedisURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return url
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return url
	}
	return scheme + "://" + user + ":***" + rest[at:]
}
