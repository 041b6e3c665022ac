// Package cache provides the short-TTL memoization layer used in front of
// pricing/availability lookups and quality-score reads. A cache miss or a
// cache outage always falls through to the authoritative source; nothing in
// the core treats the cache as load-bearing.
package cache

import (
	"context"
	"time"
)

// Cache is the narrow memoization surface. Get reports a miss (false) for
// absent keys and for any backend error so callers never branch on cache
// failures.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Ping(ctx context.Context) error
}

// Null is a no-op cache used when no Redis endpoint is configured.
type Null struct{}

func (Null) Get(ctx context.Context, key string) (string, bool)            { return "", false }
func (Null) Set(ctx context.Context, key, value string, ttl time.Duration) {}
func (Null) Ping(ctx context.Context) error                                { return nil }
