// Package cache keeps short-lived copies of expensive aggregates in Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"

	"github.com/xenking/ghostmarket/internal/domain/order"
)

const statsKey = "ghostmarket:dashboard:stats"

var _ order.StatsCache = (*Stats)(nil)

// Stats caches dashboard aggregates under a single key.
type Stats struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStats returns a Stats cache backed by rdb. Entries expire after ttl, which
// bounds how stale dashboard numbers can get if an invalidation is lost.
func NewStats(rdb *redis.Client, ttl time.Duration) *Stats {
	return &Stats{rdb: rdb, ttl: ttl}
}

// Get returns the cached stats. ok is false on a miss, including when the
// stored entry cannot be decoded. Errors are reserved for Redis failures.
func (c *Stats) Get(ctx context.Context) (*order.Stats, bool, error) {
	raw, err := c.rdb.Get(ctx, statsKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}

	var s order.Stats
	if err := json.Unmarshal(raw, &s); err != nil {
		// A bad entry is a miss; the next Set overwrites it.
		return nil, false, nil
	}
	return &s, true, nil
}

// Set stores s for the configured TTL.
func (c *Stats) Set(ctx context.Context, s *order.Stats) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode stats")
	}
	if err := c.rdb.Set(ctx, statsKey, raw, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Invalidate drops the cached entry.
func (c *Stats) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, statsKey).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Stats) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
