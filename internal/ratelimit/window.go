// Package ratelimit implements sliding-window admission control over a shared
// Redis counter store, composable across multiple named limiters with a
// most-restrictive-wins combination.
//
// The window state is externally owned atomic key-value state: each check runs
// one Lua script that prunes expired timestamps, counts the trailing window,
// and conditionally records the new request. Nothing is cached in process
// memory, so any number of concurrent instances enforce one global ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes entries older than the trailing window, counts
// the remainder, and records the request only when it is admitted. Running it
// as one script makes the increment-and-compare atomic under concurrent
// callers hitting the same key.
//
// KEYS[1] window zset; ARGV: now_ms, window_ms, limit, member.
// Returns {allowed, count_after, oldest_ms}.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)

local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  allowed = 1
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  count = count + 1
end
redis.call("PEXPIRE", KEYS[1], window)

local oldest = now
local first = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if first[2] then
  oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`

// Window counts events per key in a trailing time interval against a fixed
// ceiling, backed by Redis. It is safe for concurrent use from any number of
// processes.
type Window struct {
	client *redis.Client
	script *redis.Script
}

// NewWindow wraps a Redis client for sliding-window counting. A nil client
// yields a nil Window, which callers treat as "no shared store configured".
func NewWindow(client *redis.Client) *Window {
	if client == nil {
		return nil
	}
	return &Window{
		client: client,
		script: redis.NewScript(slidingWindowScript),
	}
}

// Allow records one request under key and reports whether it fits within
// limit events per window. The returned count is the window population after
// the call and resetAt is when the oldest counted event leaves the window.
func (w *Window) Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, count int, resetAt time.Time, err error) {
	if w == nil || w.client == nil {
		return false, 0, time.Time{}, fmt.Errorf("sliding window not configured")
	}
	if key == "" {
		return false, 0, time.Time{}, fmt.Errorf("sliding window key is empty")
	}
	if limit < 1 || window <= 0 {
		return false, 0, time.Time{}, fmt.Errorf("sliding window needs limit >= 1 and a positive window")
	}

	// Members must be unique per request or concurrent ZADDs at the same
	// millisecond collapse into one.
	now := time.Now()
	member := uuid.NewString()
	res, err := w.script.Run(
		ctx,
		w.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if len(res) < 3 {
		return false, 0, time.Time{}, fmt.Errorf("invalid sliding window script response")
	}

	allowed = castToInt(res[0]) == 1
	count = int(castToInt(res[1]))
	oldest := time.UnixMilli(castToInt(res[2]))
	return allowed, count, oldest.Add(window), nil
}

// castToInt tolerates the integer encodings go-redis hands back for Lua
// numbers.
func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
