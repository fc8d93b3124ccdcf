package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter, starts its expiry on the
// first hit and returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RateLimiter counts requests per scope and subject in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateDecision, error)
}

// RedisRateLimiter keeps one counter per window in Redis so every replica
// shares the same budget.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wallet:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// Allow records one hit. A nil limiter, a missing client or a non-positive
// limit always allows.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateDecision, error) {
	open := RateDecision{Allowed: true}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if r == nil || r.client == nil || limit <= 0 || window <= 0 || scope == "" || subject == "" {
		return open, nil
	}

	windowMs := max(window.Milliseconds(), 1000)
	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	reply, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return open, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != 2 {
		return open, fmt.Errorf("unexpected rate limit reply length %d", len(reply))
	}

	ttlMs := reply[1]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return RateDecision{
		Allowed:    reply[0] <= int64(limit),
		Count:      int(reply[0]),
		RetryAfter: retryAfter.Round(time.Second),
	}, nil
}
