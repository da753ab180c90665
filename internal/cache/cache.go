// Package cache wraps a Redis-compatible client for presence, read-through
// caching of chat lists, and the fixed-window rate limiter used by the edge
// gateway. Every method degrades to a cache
// miss on error instead of failing the caller, per Fechatter's "cache errors
// never fail the request" rule.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the flat Redis keyspace shared by every subsystem.
const (
	PrefixSession   = "session:"
	PrefixPresence  = "presence:"
	PrefixRateLimit = "ratelimit:"
	PrefixCache     = "cache:"
	PrefixTyping    = "typing:"
)

// Client wraps *redis.Client with Fechatter's cache-aside and rate-limit
// helpers. It is cheap to share: callers hold a *Client, never copy it.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Client from a redis:// URL and verifies connectivity with a
// ping.
func New(ctx context.Context, url string, poolSize int, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing cache URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	logger.Info("cache connection established", slog.String("addr", opts.Addr))
	return &Client{rdb: rdb, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// HealthCheck verifies the cache connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetJSON reads a JSON-encoded value for key into dst. Returns (false, nil)
// on a cache miss or any cache error, logging the error at debug level; the
// caller always falls through to the authoritative store on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache get failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Debug("cache value unmarshal failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// SetJSON best-effort writes a JSON-encoded value with a TTL. Errors are
// logged, never returned: a failed write never blocks the caller.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug("cache value marshal failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Invalidate best-effort deletes one or more keys.
func (c *Client) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Debug("cache invalidate failed", slog.String("error", err.Error()))
	}
}

// RateLimitResult reports the outcome of a fixed-window rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// CheckRateLimitInfo applies a fixed-window counter keyed by key: INCR then,
// on the first increment within the window, set the expiry. Returns Allowed
// = false once the window's count exceeds limit. On any cache error the
// check fails open (Allowed = true) so a cache outage never blocks traffic.
func (c *Client) CheckRateLimitInfo(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	fullKey := PrefixRateLimit + key
	count, err := c.rdb.Incr(ctx, fullKey).Result()
	if err != nil {
		return RateLimitResult{Allowed: true, Limit: limit, Remaining: limit}, err
	}
	if count == 1 {
		c.rdb.Expire(ctx, fullKey, window)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// SetPresence records a user's presence with an expiring key; callers let
// the TTL itself express "offline if not refreshed" for ungraceful
// disconnects, publishing the transition explicitly on graceful ones.
func (c *Client) SetPresence(ctx context.Context, userID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, PrefixPresence+userID, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// GetPresence reports whether a presence key is currently live.
func (c *Client) GetPresence(ctx context.Context, userID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, PrefixPresence+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearPresence removes a user's presence key immediately (used on graceful
// disconnect rather than waiting for TTL expiry).
func (c *Client) ClearPresence(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, PrefixPresence+userID).Err(); err != nil {
		c.logger.Debug("clear presence failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// CoalesceTyping reports whether this is the first typing/start within the
// TTL window for (chatID, userID); duplicate starts return false so the
// caller can skip re-publishing.
func (c *Client) CoalesceTyping(ctx context.Context, chatID, userID string, ttl time.Duration) bool {
	key := PrefixTyping + chatID + ":" + userID
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		c.logger.Debug("typing coalesce failed", slog.String("error", err.Error()))
		return true
	}
	return ok
}
