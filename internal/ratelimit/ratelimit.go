// Package ratelimit implements per-IP fixed-window limits shared across
// instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per IP and purpose in fixed windows.
type Limiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

func NewLimiter(client redis.UniversalClient, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, window: window}
}

// incrWindow increments the counter and starts the window on the first hit.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func ipKey(ip, purpose string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

// Allow counts one request from ip for purpose and reports whether it fits
// in the current window. Counting and deciding is a single round trip, so
// concurrent requests cannot overshoot the limit.
func (l *Limiter) Allow(ctx context.Context, ip, purpose string) (bool, error) {
	n, err := incrWindow.Run(ctx, l.client, []string{ipKey(ip, purpose)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to count request: %w", err)
	}
	return n <= int64(l.limit), nil
}
