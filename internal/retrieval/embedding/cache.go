package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/todomyday/recall/config"
)

// Cache is a redis-backed cache of embedding vectors keyed by model and text
// content. Identical text re-indexed later skips the API entirely. Cache
// errors are logged and treated as misses, never surfaced to callers.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache connects the embedding cache. Returns nil when disabled, which
// callers treat as "no cache".
func NewCache(cfg config.CacheConfig, logger *log.Logger) *Cache {
	if !cfg.Enabled || cfg.Addr == "" {
		return nil
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED-CACHE] ", log.LstdFlags)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: rdb, ttl: cfg.TTL, logger: logger}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "recall:emb:" + hex.EncodeToString(sum[:])
}

// Get looks up vectors for the given texts. The returned slice is parallel to
// texts with nil entries for misses.
func (c *Cache) Get(ctx context.Context, model string, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if c == nil {
		return out
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(model, t)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Printf("mget failed, treating as miss: %v", err)
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			c.logger.Printf("corrupt cache entry %s: %v", keys[i], err)
			continue
		}
		out[i] = vec
	}
	return out
}

// Put stores vectors for the given texts. Failures are logged only.
func (c *Cache) Put(ctx context.Context, model string, texts []string, vecs [][]float32) {
	if c == nil || len(texts) != len(vecs) {
		return
	}
	pipe := c.client.Pipeline()
	for i, t := range texts {
		data, err := json.Marshal(vecs[i])
		if err != nil {
			continue
		}
		pipe.Set(ctx, cacheKey(model, t), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Printf("cache write failed: %v", err)
	}
}

// Ping verifies connectivity at startup.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("embedding cache redis ping: %w", err)
	}
	return nil
}
