package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisLimiter はminiredisを保存先にしたRedisLimiterを生成する。
func newTestRedisLimiter(t *testing.T, max int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	l, err := NewRedisLimiter(client, Config{MaxRequests: max, Window: window}, WithKeyPrefix("test:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLimiter_DeniesRequestOverCap(t *testing.T) {
	t.Parallel()

	l, mr := newTestRedisLimiter(t, 100, 15*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d, err := l.Admit(ctx, "10.0.0.1", time.Now())
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 100-i, d.Remaining)
	}

	d, err := l.Admit(ctx, "10.0.0.1", time.Now())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.ResetAfter, time.Duration(0))

	got, err := mr.Get("test:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "100", got, "denied request must not be counted")
}

func TestRedisLimiter_WindowExpiryAdmitsAgain(t *testing.T) {
	t.Parallel()

	l, mr := newTestRedisLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Admit(ctx, "client", time.Now())
		require.NoError(t, err)
	}
	d, err := l.Admit(ctx, "client", time.Now())
	require.NoError(t, err)
	require.False(t, d.Allowed)

	assert.Equal(t, 15*time.Minute, mr.TTL("test:client"))
	mr.FastForward(15 * time.Minute)

	d, err = l.Admit(ctx, "client", time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisLimiter_ConcurrentAdmitsNeverExceedCap(t *testing.T) {
	t.Parallel()

	l, _ := newTestRedisLimiter(t, 50, time.Minute)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(ctx, "burst", time.Now())
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestRedisLimiter_RestoresMissingExpiry(t *testing.T) {
	t.Parallel()

	l, mr := newTestRedisLimiter(t, 10, time.Minute)
	require.NoError(t, mr.Set("test:stale", "1"))

	d, err := l.Admit(context.Background(), "stale", time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Minute, mr.TTL("test:stale"))
}

func TestRedisLimiter_PingReportsUnavailableStore(t *testing.T) {
	t.Parallel()

	l, mr := newTestRedisLimiter(t, 10, time.Minute)
	require.NoError(t, l.Ping(context.Background()))

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, l.Ping(ctx))

	_, err := l.Admit(ctx, "any", time.Now())
	assert.Error(t, err)
}

func TestNewRedisLimiter_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisLimiter(nil, DefaultConfig())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err = NewRedisLimiter(client, Config{MaxRequests: -1, Window: time.Minute})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
