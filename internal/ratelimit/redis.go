package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript increments the counter only while it is below the limit.
// Returns {allowed, count}.
var checkScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return {0, n}
end
n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {1, n}
`)

const redisKeyTTL = 48 * time.Hour

// RedisLimiter checks and increments in one atomic script call.
type RedisLimiter struct {
	rdb   redis.Scripter
	limit int
	now   func() time.Time
}

func NewRedisLimiter(rdb redis.Scripter, limit int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: normalizeLimit(limit), now: time.Now}
}

func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	return &RedisLimiter{rdb: l.rdb, limit: l.limit, now: now}
}

func redisKey(ip, day string) string {
	return fmt.Sprintf("anon_usage:%s:%s", day, ip)
}

func (l *RedisLimiter) Check(ctx context.Context, ip string) (Result, error) {
	key := redisKey(ip, usageDate(l.now()))
	res, err := checkScript.Run(ctx, l.rdb, []string{key}, l.limit, int(redisKeyTTL.Seconds())).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Result{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}
	if res[0] == 0 {
		return Result{Allowed: false, Remaining: 0, Limit: l.limit}, nil
	}
	return Result{Allowed: true, Remaining: remaining(l.limit, int(res[1])), Limit: l.limit}, nil
}
