// Package cache is the Redis adapter for the concurrency-control
// plane: TTL-bounded dedup flags and mutual-exclusion locks. The
// cache is never authoritative; the database serializes the final
// winner, so every key here expires on its own if a process dies.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	namespaceDedup = "dedup"
	namespaceLocks = "locks"
)

// Client is the subset of redis.Client operations the plane needs.
// Extracted for testing with mocked command results.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Plane exposes dedup flags and locks keyed by (feature, resource).
type Plane struct {
	client Client
}

// New creates a cache plane on the given Redis client.
func New(client Client) *Plane {
	return &Plane{client: client}
}

func dedupKey(feature, resource string) string {
	return fmt.Sprintf("%s:%s:%s", namespaceDedup, feature, resource)
}

func lockKey(feature, resource string) string {
	return fmt.Sprintf("%s:%s:%s", namespaceLocks, feature, resource)
}

// SetDedup sets the in-progress marker for (feature, resource) if
// absent. Returns true if the flag was inserted, false if it already
// existed. A Redis failure counts as inserted: dedup only suppresses
// obvious double-submits and must not take the data plane down with it.
func (p *Plane) SetDedup(ctx context.Context, feature, resource string, ttl time.Duration) bool {
	ok, err := p.client.SetNX(ctx, dedupKey(feature, resource), 1, ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("feature", feature).Str("resource", resource).
			Msg("dedup set failed, proceeding without suppression")
		return true
	}
	return ok
}

// HasDedup reports whether the in-progress marker is currently set.
// Redis failures read as not set.
func (p *Plane) HasDedup(ctx context.Context, feature, resource string) bool {
	n, err := p.client.Exists(ctx, dedupKey(feature, resource)).Result()
	if err != nil {
		log.Warn().Err(err).Str("feature", feature).Str("resource", resource).
			Msg("dedup probe failed")
		return false
	}
	return n > 0
}

// ClearDedup removes the in-progress marker. Idempotent; failures are
// swallowed because the TTL reclaims the flag anyway.
func (p *Plane) ClearDedup(ctx context.Context, feature, resource string) {
	if err := p.client.Del(ctx, dedupKey(feature, resource)).Err(); err != nil {
		log.Warn().Err(err).Str("feature", feature).Str("resource", resource).
			Msg("dedup clear failed, ttl will expire it")
	}
}

// AcquireLock takes the (feature, resource) lock for ttl. Returns true
// only on a confirmed acquisition: a Redis failure is treated as "not
// acquired" so two holders can never both believe they won.
func (p *Plane) AcquireLock(ctx context.Context, feature, resource string, ttl time.Duration) bool {
	ok, err := p.client.SetNX(ctx, lockKey(feature, resource), 1, ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("feature", feature).Str("resource", resource).
			Msg("lock acquire failed, treating as contended")
		return false
	}
	return ok
}

// ReleaseLock drops the (feature, resource) lock. Idempotent; failures
// are logged and swallowed, the TTL is the backstop.
func (p *Plane) ReleaseLock(ctx context.Context, feature, resource string) {
	if err := p.client.Del(ctx, lockKey(feature, resource)).Err(); err != nil {
		log.Warn().Err(err).Str("feature", feature).Str("resource", resource).
			Msg("lock release failed, ttl will expire it")
	}
}
