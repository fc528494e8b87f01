package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLimiter_AllowsUntilShortLimit(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, smallLimits())

	d, err := l.CanMakeRequest(ctx, DefaultKey)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, l.RecordRequest(ctx, DefaultKey))
	require.NoError(t, l.RecordRequest(ctx, DefaultKey))

	d, err = l.CanMakeRequest(ctx, DefaultKey)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ScopeShort, d.Scope)
	assert.Equal(t, "Minute rate limit exceeded", d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 60*time.Second)

	assert.True(t, mr.Exists("quota:short:default"))
	assert.True(t, mr.Exists("quota:long:default"))
}

func TestRedisLimiter_CheckIsReadOnly(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, smallLimits())

	for range 5 {
		_, err := l.CanMakeRequest(ctx, DefaultKey)
		require.NoError(t, err)
	}
	assert.Empty(t, mr.Keys())
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, smallLimits())

	require.NoError(t, l.RecordRequest(ctx, DefaultKey))
	require.NoError(t, l.RecordRequest(ctx, DefaultKey))

	mr.FastForward(61 * time.Second)

	d, err := l.CanMakeRequest(ctx, DefaultKey)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	u, err := l.Usage(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, Usage{ShortUsage: 0, ShortLimit: 2, LongUsage: 2, LongLimit: 5}, u)
}

func TestRedisLimiter_ResetDeletesQuotaKeysOnly(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, smallLimits())

	require.NoError(t, mr.Set("unrelated", "x"))
	require.NoError(t, l.RecordRequest(ctx, "a"))
	require.NoError(t, l.RecordRequest(ctx, "b"))

	require.NoError(t, l.Reset(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}
