package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quota:"

// recordScript increments both window counters and anchors each window at its
// first request. Expired keys vanish, so the next INCR opens a fresh window.
var recordScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local n = redis.call('INCR', key)
	if n == 1 then
		redis.call('PEXPIRE', key, ARGV[i])
	end
end
return 1
`)

// RedisLimiter keeps quota windows in Redis so several processes can share
// one upstream allowance. Window expiry is delegated to key TTLs.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	limits Limits
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter backed by rdb.
func NewRedisLimiter(rdb redis.UniversalClient, limits Limits) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limits: limits}
}

func redisKey(s Scope, key string) string {
	return redisKeyPrefix + string(s) + ":" + key
}

func (r *RedisLimiter) CanMakeRequest(ctx context.Context, key string) (Decision, error) {
	scopes := []Scope{ScopeShort, ScopeLong}
	gets := make([]*redis.StringCmd, len(scopes))
	ttls := make([]*redis.DurationCmd, len(scopes))

	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, s := range scopes {
			gets[i] = p.Get(ctx, redisKey(s, key))
			ttls[i] = p.PTTL(ctx, redisKey(s, key))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("check quota: %w", err)
	}

	for i, s := range scopes {
		count, err := counterValue(gets[i])
		if err != nil {
			return Decision{}, fmt.Errorf("check quota %s: %w", s, err)
		}
		if count < r.limits.window(s).Limit {
			continue
		}
		retry := ttls[i].Val()
		if retry < 0 {
			// key vanished between GET and PTTL or has no expiry
			continue
		}
		return Decision{
			Allowed:    false,
			Scope:      s,
			Reason:     reasonFor(s),
			RetryAfter: retry,
		}, nil
	}
	return Decision{Allowed: true}, nil
}

func (r *RedisLimiter) RecordRequest(ctx context.Context, key string) error {
	keys := []string{redisKey(ScopeShort, key), redisKey(ScopeLong, key)}
	args := []any{
		r.limits.Short.Duration.Milliseconds(),
		r.limits.Long.Duration.Milliseconds(),
	}
	if err := recordScript.Run(ctx, r.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("record quota: %w", err)
	}
	return nil
}

func (r *RedisLimiter) Usage(ctx context.Context, key string) (Usage, error) {
	vals, err := r.rdb.MGet(ctx, redisKey(ScopeShort, key), redisKey(ScopeLong, key)).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("read quota usage: %w", err)
	}
	return Usage{
		ShortUsage: anyToInt(vals[0]),
		ShortLimit: r.limits.Short.Limit,
		LongUsage:  anyToInt(vals[1]),
		LongLimit:  r.limits.Long.Limit,
	}, nil
}

// Reset deletes every quota key.
func (r *RedisLimiter) Reset(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan quota keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete quota keys: %w", err)
	}
	return nil
}

func counterValue(cmd *redis.StringCmd) (int, error) {
	n, err := cmd.Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func anyToInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
