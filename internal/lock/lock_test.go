package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	lease, err := l.Acquire(ctx, CampaignKey(1))
	require.NoError(t, err)

	_, err = l.Acquire(ctx, CampaignKey(1))
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, CampaignKey(2))
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := l.Acquire(ctx, CampaignKey(1))
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, ttl, logger.Nop()), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t, time.Minute)

	lease, err := l.Acquire(ctx, CampaignKey(7))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:campaign:7:dispatch"))

	_, err = l.Acquire(ctx, CampaignKey(7))
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("lock:campaign:7:dispatch"))

	again, err := l.Acquire(ctx, CampaignKey(7))
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisReleaseDoesNotDropForeignLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t, time.Minute)

	lease, err := l.Acquire(ctx, CampaignKey(3))
	require.NoError(t, err)

	// simulate expiry and takeover by another holder
	mr.Del("lock:campaign:3:dispatch")
	require.NoError(t, mr.Set("lock:campaign:3:dispatch", "someone-else"))

	require.NoError(t, lease.Release(ctx))
	got, err := mr.Get("lock:campaign:3:dispatch")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLeaseExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t, 30*time.Second)

	lease, err := l.Acquire(ctx, CampaignKey(9))
	require.NoError(t, err)
	defer lease.Release(ctx)

	mr.FastForward(31 * time.Second)
	second, err := l.Acquire(ctx, CampaignKey(9))
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}
