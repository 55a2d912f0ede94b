package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
	"github.com/dmitrymomot/clinicbilling/pkg/redis"
)

func newLocker(t *testing.T, cfg redis.Config) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewLocker(client, cfg), mr
}

func TestLocker_LockUnlock(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t, redis.Config{LockPrefix: "test:", LockTTL: time.Minute, LockRetryWait: time.Millisecond})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "subscription:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:subscription:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:subscription:1"))

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:subscription:1"))

	unlock, err = l.Lock(ctx, "subscription:1")
	require.NoError(t, err)
	unlock()
}

func TestLocker_HeldKeyTimesOut(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t, redis.Config{LockRetryWait: time.Millisecond})

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	require.ErrorIs(t, err, keylock.ErrLockNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestLocker_ExpiredHolderCannotRelease(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t, redis.Config{LockTTL: time.Second, LockRetryWait: time.Millisecond})
	ctx := context.Background()

	stale, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("k"), "stale release must not remove the new holder's lock")

	fresh()
	assert.False(t, mr.Exists("k"))
}

func TestLocker_Serializes(t *testing.T) {
	t.Parallel()

	l, _ := newLocker(t, redis.Config{LockRetryWait: time.Millisecond})

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "shared")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

func TestLocker_ServerDown(t *testing.T) {
	t.Parallel()

	l, mr := newLocker(t, redis.Config{})
	mr.Close()

	_, err := l.Lock(context.Background(), "k")
	require.ErrorIs(t, err, keylock.ErrLockNotAcquired)
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("empty url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{})
		require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("connects and answers health probe", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		client, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL:  "redis://" + mr.Addr() + "/0",
			RetryAttempts:  1,
			ConnectTimeout: time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		require.NoError(t, redis.Healthcheck(client)(context.Background()))
	})

	t.Run("bad url", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "://nope"})
		require.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})
}
