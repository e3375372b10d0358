package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The check and the increment run in one script so a rejected request
// never consumes a slot and concurrent sends cannot both take the last one.
const fixedWindowScript = `
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
    return {0, current, redis.call("PTTL", KEYS[1])}
end

local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("PEXPIRE", KEYS[1], window)
end

return {1, n, redis.call("PTTL", KEYS[1])}
`

type WindowResult struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// RedisWindow is a fixed-window request counter kept in Redis.
type RedisWindow struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		now:    time.Now,
	}
}

// Hit records one request against key unless the window is already full.
func (w *RedisWindow) Hit(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error) {
	if key == "" {
		return WindowResult{}, errors.New("rate limit key is empty")
	}
	if limit <= 0 || window <= 0 {
		return WindowResult{}, errors.New("rate limit and window must be positive")
	}

	res, err := w.script.Run(ctx, w.client, []string{"ratelimit:" + key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) < 3 {
		return WindowResult{}, errors.New("invalid rate limit script response")
	}

	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl <= 0 {
		ttl = window
	}

	return WindowResult{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
		ResetAt: w.now().Add(ttl),
	}, nil
}
