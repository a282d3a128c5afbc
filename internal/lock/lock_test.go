package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return NewRedisLockerFromClient(client, ttl), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Minute)
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"contracts"))

	_, err = l.Acquire(ctx, "contracts")
	assert.True(t, errors.Is(err, ErrLocked))

	other, err := l.Acquire(ctx, "forecast")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(keyPrefix+"contracts"))

	again, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_TTLExpiry(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlock, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)

	// The expired holder must not delete the new holder's key.
	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists(keyPrefix+"contracts"))
	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists(keyPrefix+"contracts"))
}

func TestRedisLocker_RefreshesWhileHeld(t *testing.T) {
	l, mr := newTestRedisLocker(t, 300*time.Millisecond)
	ctx := context.Background()
	key := keyPrefix + "all"

	unlock, err := l.Acquire(ctx, "all")
	require.NoError(t, err)

	// Outlive the original TTL in two steps; the holder extends it in between.
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(key) > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
	mr.FastForward(250 * time.Millisecond)

	_, err = l.Acquire(ctx, "all")
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(key))

	again, err := l.Acquire(ctx, "all")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_StopsRefreshingAfterUnlock(t *testing.T) {
	l, mr := newTestRedisLocker(t, 150*time.Millisecond)
	ctx := context.Background()
	key := keyPrefix + "contracts"

	unlock, err := l.Acquire(ctx, "contracts")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))

	// A foreign holder's key must not be extended by the released holder.
	require.NoError(t, mr.Set(key, "someone-else"))
	mr.SetTTL(key, 100*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, mr.TTL(key))
}

func TestRedisLocker_ServerDown(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	mr.Close()

	_, err := l.Acquire(context.Background(), "contracts")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLocked))
}

func TestNewRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := NewRedisLocker(context.Background(), "redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	assert.Equal(t, time.Hour, l.ttl)

	_, err = NewRedisLocker(context.Background(), "not a url", time.Second)
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "all")
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "all")
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))

	again, err := l.Acquire(ctx, "all")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
