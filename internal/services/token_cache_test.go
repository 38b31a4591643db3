package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenCache(t *testing.T) {
	ctx := context.Background()
	now := testNow
	cache := NewMemoryTokenCache()
	cache.now = func() time.Time { return now }

	_, ok := cache.Get(ctx, "mpesa")
	assert.False(t, ok)

	cache.Set(ctx, "mpesa", "tok-1", time.Minute)
	token, ok := cache.Get(ctx, "mpesa")
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)

	now = now.Add(time.Minute)
	_, ok = cache.Get(ctx, "mpesa")
	assert.False(t, ok, "tokens expire at their ttl")
}

func TestCachedToken(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches once and reuses the token", func(t *testing.T) {
		cache := NewMemoryTokenCache()
		fetches := 0
		fetch := func(context.Context) (string, time.Duration, error) {
			fetches++
			return "tok", time.Hour, nil
		}

		for i := 0; i < 3; i++ {
			token, err := cachedToken(ctx, cache, "paypal", fetch)
			require.NoError(t, err)
			assert.Equal(t, "tok", token)
		}
		assert.Equal(t, 1, fetches)
	})

	t.Run("short-lived tokens are not cached", func(t *testing.T) {
		cache := NewMemoryTokenCache()
		fetches := 0
		fetch := func(context.Context) (string, time.Duration, error) {
			fetches++
			return "tok", 30 * time.Second, nil
		}

		_, err := cachedToken(ctx, cache, "pesapal", fetch)
		require.NoError(t, err)
		_, err = cachedToken(ctx, cache, "pesapal", fetch)
		require.NoError(t, err)
		assert.Equal(t, 2, fetches)
	})

	t.Run("fetch errors are returned", func(t *testing.T) {
		_, err := cachedToken(ctx, NewMemoryTokenCache(), "mpesa", func(context.Context) (string, time.Duration, error) {
			return "", 0, errors.New("401 Unauthorized")
		})
		assert.EqualError(t, err, "401 Unauthorized")
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := cachedToken(ctx, nil, "mpesa", func(context.Context) (string, time.Duration, error) {
			return "", time.Hour, nil
		})
		assert.Error(t, err)
	})
}

func TestRedisTokenCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	cache := NewRedisTokenCache(client)

	ctx := context.Background()
	cache.Set(ctx, "mpesa", "tok", time.Minute)
	_, ok := cache.Get(ctx, "mpesa")
	assert.False(t, ok, "redis errors are a cache miss")
}
