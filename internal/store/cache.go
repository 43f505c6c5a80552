package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const aggregateCacheKeyPrefix = "serverlessd:agg:"

// CachedMetricsStore wraps a MetricsStore and serves Aggregate from Redis
// when available, falling back to the underlying store on a miss or when
// Redis itself is unreachable. Record and List always pass through
// untouched: only the aggregation windows are expensive enough to cache.
type CachedMetricsStore struct {
	MetricsStore
	client *redis.Client
	ttl    time.Duration
}

// NewCachedMetricsStore wraps store with a Redis-backed aggregate cache.
// addr must be reachable at construction time; callers that want to run
// without Redis should just use the underlying MetricsStore directly.
func NewCachedMetricsStore(ctx context.Context, store MetricsStore, addr string, ttl time.Duration) (*CachedMetricsStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &CachedMetricsStore{MetricsStore: store, client: client, ttl: ttl}, nil
}

func (c *CachedMetricsStore) Close() error {
	return c.client.Close()
}

func (c *CachedMetricsStore) Aggregate(ctx context.Context, functionName string, window Window) (*Aggregate, error) {
	scope := functionName
	if scope == "" {
		scope = "_all"
	}
	key := aggregateCacheKeyPrefix + scope + ":" + string(window)

	if cached, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var agg Aggregate
		if json.Unmarshal(cached, &agg) == nil {
			return &agg, nil
		}
	}

	agg, err := c.MetricsStore.Aggregate(ctx, functionName, window)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(agg); err == nil {
		c.client.Set(ctx, key, data, c.ttl)
	}

	return agg, nil
}
