package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and arms its TTL on the first hit.
// Returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// slidingWindowScript trims the log to the trailing window and admits when room remains.
// Returns {allowed, count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count < max then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, count + 1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, count, retry}
`)

// RedisStore shares window state across instances through Redis.
type RedisStore struct {
	client    redis.Scripter
	algorithm Algorithm
	prefix    string
}

// NewRedisStore builds a Store on client. Keys are namespaced under prefix.
func NewRedisStore(client redis.Scripter, algorithm Algorithm, prefix string) *RedisStore {
	if algorithm == "" {
		algorithm = AlgorithmSliding
	}
	if prefix == "" {
		prefix = "chatgate:rl:"
	}
	return &RedisStore{client: client, algorithm: algorithm, prefix: prefix}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	if window <= 0 || max <= 0 {
		return Decision{}, ErrInvalidBudget
	}
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}
	redisKey := s.prefix + key

	if s.algorithm == AlgorithmFixed {
		res, err := fixedWindowScript.Run(ctx, s.client, []string{redisKey}, windowMS).Int64Slice()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: redis fixed window: %w", err)
		}
		if len(res) != 2 {
			return Decision{}, fmt.Errorf("ratelimit: redis fixed window: unexpected reply %v", res)
		}
		count := int(res[0])
		if count <= max {
			return Decision{Allowed: true, Limit: max, Remaining: remaining(max, count)}, nil
		}
		retry := time.Duration(res[1]) * time.Millisecond
		if retry < 0 {
			retry = window
		}
		return Decision{Allowed: false, Limit: max, RetryAfter: retry}, nil
	}

	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{redisKey}, now.UnixMilli(), windowMS, max, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis sliding window: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Limit: max, Remaining: remaining(max, int(res[1]))}, nil
	}
	return Decision{
		Allowed:    false,
		Limit:      max,
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
