// Package cache memoizes ranked results in Redis. Concurrent lookups of the
// same key share one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/wizenheimer/qeval"
)

const keyPrefix = "qeval:"

// Store is the byte-level backend of a ResultCache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore keeps entries in Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to addr and verifies the connection with a PING.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get returns the value for key; found is false when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores value with the given TTL; 0 means no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Close closes the underlying connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Observer is told about every lookup.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// ResultCache implements qeval.ResultCache on top of a Store. Backend
// failures are logged and treated as misses so a run never depends on the
// cache being up.
type ResultCache struct {
	store    Store
	ttl      time.Duration
	group    singleflight.Group
	observer Observer
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
}

// New returns a cache writing entries with ttl. observer may be nil.
func New(store Store, ttl time.Duration, observer Observer) *ResultCache {
	return &ResultCache{
		store:    store,
		ttl:      ttl,
		observer: observer,
		logger:   slog.Default().With("component", "result-cache"),
	}
}

// GetOrCompute returns the cached results for key, or runs compute and
// stores what it returns.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute func() ([]qeval.ScoredDoc, error)) ([]qeval.ScoredDoc, bool, error) {
	k := Key(key)
	if results, ok := c.get(ctx, k); ok {
		c.hit()
		return results, true, nil
	}
	c.miss()

	val, err, _ := c.group.Do(k, func() (any, error) {
		if results, ok := c.get(ctx, k); ok {
			return results, nil
		}
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, k, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]qeval.ScoredDoc), false, nil
}

// Stats returns the hit and miss counts.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) get(ctx context.Context, key string) ([]qeval.ScoredDoc, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var results []qeval.ScoredDoc
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return results, true
}

func (c *ResultCache) set(ctx context.Context, key string, results []qeval.ScoredDoc) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *ResultCache) hit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

// Key hashes a raw cache key into a fixed-length Redis key.
func Key(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
