// Package routecache is a best-effort Redis cache of routing decisions keyed
// by request fingerprint. A fingerprint embeds the catalog version, so any
// catalog change changes every key and stale decisions are simply never read
// again; they age out on TTL. Cache errors degrade to misses, never to
// routing failures.
package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/router"
)

const keyPrefix = "toolgate:route:"

const defaultTTL = 10 * time.Minute

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to the Redis instance at addr. The connection is verified
// eagerly so a misconfigured address fails at startup, not on first route.
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("routecache: connecting to %s: %w", addr, err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached decision for the fingerprint, or false on a miss.
// A Redis error counts as a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*router.Decision, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("routecache: get %s: %v", fingerprint, err)
		}
		return nil, false
	}
	var d router.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		log.Printf("routecache: decoding cached decision %s: %v", fingerprint, err)
		return nil, false
	}
	return &d, true
}

// Put stores the decision under its own fingerprint. Decisions without a
// fingerprint and NoMatch decisions are not cached; an empty catalog
// recovering its tools should not keep answering no_match from cache.
func (c *Cache) Put(ctx context.Context, d *router.Decision) error {
	if d == nil || d.Fingerprint == "" || d.Mode == router.NoMatch {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("routecache: encoding decision: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+d.Fingerprint, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("routecache: storing decision: %w", err)
	}
	return nil
}

// Invalidate drops a single cached decision, used when the gateway retires
// the tool a cached decision points at before its TTL lapses.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.rdb.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("routecache: invalidating %s: %w", fingerprint, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
