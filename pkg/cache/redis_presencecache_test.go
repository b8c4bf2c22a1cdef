package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presenceTestValue struct {
	ServerID    string `json:"serverId"`
	ConnectedAt int64  `json:"connectedAt"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPresenceCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	presenceCache := cache.NewRedisPresenceCacheFromClient[string, presenceTestValue](
		client, &cache.RedisConfig{KeyPrefix: "presence:"}, zerolog.Nop())
	t.Cleanup(func() { _ = presenceCache.Close() })

	const testKey = "user:pres:123"
	testValue := presenceTestValue{ServerID: "instance-1", ConnectedAt: time.Now().Unix()}

	t.Run("Set, Fetch, and Delete cycle", func(t *testing.T) {
		// Act 1: Set a value
		err := presenceCache.Set(ctx, testKey, testValue)
		require.NoError(t, err)

		// Assert 1: Verify directly in Redis that the prefixed key exists without a TTL
		assert.True(t, mr.Exists("presence:"+testKey), "Key should exist in Redis after Set")
		assert.Zero(t, mr.TTL("presence:"+testKey), "No backend TTL is configured")

		// Act 2: Fetch the value back
		retrieved, err := presenceCache.Fetch(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testValue, retrieved)

		// Act 3: Delete the value
		err = presenceCache.Delete(ctx, testKey)
		require.NoError(t, err)

		// Assert 3: The key is gone and Fetch reports a miss
		assert.False(t, mr.Exists("presence:"+testKey), "Key should not exist in Redis after Delete")
		_, err = presenceCache.Fetch(ctx, testKey)
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("Backend failure is not a miss", func(t *testing.T) {
		// Arrange
		mr.SetError("connection reset")
		t.Cleanup(func() { mr.SetError("") })

		// Act
		_, err := presenceCache.Fetch(ctx, testKey)

		// Assert
		require.Error(t, err)
		assert.NotErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("Configured TTL is applied", func(t *testing.T) {
		// Arrange
		ttlCache := cache.NewRedisPresenceCacheFromClient[string, presenceTestValue](
			client, &cache.RedisConfig{CacheTTL: 150 * time.Millisecond}, zerolog.Nop())

		// Act
		require.NoError(t, ttlCache.Set(ctx, "ttl-key", testValue))
		mr.FastForward(200 * time.Millisecond)

		// Assert
		_, err := ttlCache.Fetch(ctx, "ttl-key")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})
}

func TestRedisPresenceCache_RecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	c := cache.NewRedisPresenceCacheFromClient[string, types.Record](client, &cache.RedisConfig{}, zerolog.Nop())

	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := types.Record{Fields: map[string]interface{}{"name": "x"}, InitTime: now, LastTime: now}

	require.NoError(t, c.Set(ctx, "abc", rec))
	got, err := c.Fetch(ctx, "abc")
	require.NoError(t, err)

	assert.Equal(t, "x", got.Fields["name"])
	assert.True(t, now.Equal(got.InitTime))
	assert.True(t, now.Equal(got.LastTime))
}

func TestNewRedisPresenceCache_ConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = cache.NewRedisPresenceCache[string, presenceTestValue](ctx, &cache.RedisConfig{Addr: addr}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis for presence cache")
}
