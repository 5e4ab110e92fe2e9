package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "photojobs:ratelimit:"

// hitScript trims expired members, then adds ARGV[4] only while the set is
// below the limit. Returns {allowed, retry_after_ms}.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local retry = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  if retry < 0 then retry = 0 end
  return {0, retry}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisWindow stores each key as a sorted set scored by request time, so
// every API instance shares the same counters.
type RedisWindow struct {
	rdb scriptClient
	now func() time.Time
}

type scriptClient interface {
	redis.Scripter
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

func NewRedisWindow(rdb scriptClient) *RedisWindow {
	return &RedisWindow{rdb: rdb, now: time.Now}
}

func (w *RedisWindow) Hit(ctx context.Context, key string, limit int, period time.Duration) (Hit, error) {
	member := uuid.NewString()
	res, err := hitScript.Run(ctx, w.rdb, []string{redisKeyPrefix + key},
		w.now().UnixMilli(), period.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return Hit{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Hit{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Hit{Allowed: true, Member: member}, nil
	}
	return Hit{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

func (w *RedisWindow) Release(ctx context.Context, key, member string) error {
	return w.rdb.ZRem(ctx, redisKeyPrefix+key, member).Err()
}

var _ Window = (*RedisWindow)(nil)
