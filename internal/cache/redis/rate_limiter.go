package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a fixed window counter. The
// INCR and the EXPIRE run in one Lua script so the window cannot get stuck
// without a TTL when a client dies between the two.
const rateLimitLua = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`

type RateLimiter struct {
	rdb     *redis.Client
	limitSc *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:     c.Underlying(),
		limitSc: redis.NewScript(rateLimitLua),
	}
}

// Allow reports whether key may perform another request in the current
// window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := rl.limitSc.Run(ctx, rl.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return count <= int64(limit), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
