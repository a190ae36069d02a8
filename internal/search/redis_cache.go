package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pressroom/api/internal/store"
)

// DefaultCacheTTL bounds how long a cached candidate list is served.
const DefaultCacheTTL = 30 * time.Second

// ResultCache keeps candidate search results in Redis. Every collection has
// a version counter that is part of each result key; bumping it orphans all
// cached results of that collection, which then expire on their own.
type ResultCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewResultCache connects to redisURL and checks the connection.
func NewResultCache(redisURL string, ttl time.Duration) (*ResultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewResultCacheWithClient(client, ttl), nil
}

func NewResultCacheWithClient(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{
		client: client,
		prefix: "pressroom:search:",
		ttl:    ttl,
	}
}

func (c *ResultCache) versionKey(collection string) string {
	return c.prefix + "v:" + collection
}

func (c *ResultCache) resultKey(collection string, version int64, field, pattern string, limit int) string {
	return c.prefix + collection + ":" + strconv.FormatInt(version, 10) + ":" + field + ":" + strconv.Itoa(limit) + ":" + pattern
}

func (c *ResultCache) version(ctx context.Context, collection string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(collection)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read search cache version: %w", err)
	}
	return v, nil
}

// Get returns the cached result for the query, if any, and the collection
// version it looked under. A result computed after a miss must be stored with
// that version so a write landing in between orphans it.
func (c *ResultCache) Get(ctx context.Context, collection, field, pattern string, limit int) ([]store.Record, int64, bool, error) {
	version, err := c.version(ctx, collection)
	if err != nil {
		return nil, 0, false, err
	}
	raw, err := c.client.Get(ctx, c.resultKey(collection, version, field, pattern, limit)).Bytes()
	if err == redis.Nil {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, fmt.Errorf("read search cache: %w", err)
	}

	var records []store.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, version, false, fmt.Errorf("unmarshal cached search: %w", err)
	}
	return nonNil(records), version, true, nil
}

// Put stores a result under version, the one Get reported before the search.
func (c *ResultCache) Put(ctx context.Context, collection string, version int64, field, pattern string, limit int, records []store.Record) error {
	raw, err := json.Marshal(nonNil(records))
	if err != nil {
		return fmt.Errorf("marshal search result: %w", err)
	}
	if err := c.client.Set(ctx, c.resultKey(collection, version, field, pattern, limit), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}
	return nil
}

// Invalidate bumps the collection's version so no earlier result is served.
func (c *ResultCache) Invalidate(ctx context.Context, collection string) error {
	if err := c.client.Incr(ctx, c.versionKey(collection)).Err(); err != nil {
		return fmt.Errorf("invalidate search cache: %w", err)
	}
	return nil
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}
