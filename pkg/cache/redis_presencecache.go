package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	CacheTTL  time.Duration `yaml:"cache_ttl"` // Zero means no backend expiry.
}

// RedisPresenceCache is a distributed implementation of PresenceCache using Redis.
// Values are stored as JSON strings under KeyPrefix+key.
type RedisPresenceCache[K comparable, V any] struct {
	redisClient *redis.Client
	ownsClient  bool
	logger      zerolog.Logger
	prefix      string
	ttl         time.Duration
}

// NewRedisPresenceCache creates and connects a new RedisPresenceCache.
// It pings the server before returning and owns the client it creates.
func NewRedisPresenceCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisPresenceCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for presence cache: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for PresenceCache.")

	c := NewRedisPresenceCacheFromClient[K, V](rdb, cfg, logger)
	c.ownsClient = true
	return c, nil
}

// NewRedisPresenceCacheFromClient wraps an existing client. The client's
// lifecycle stays with the caller.
func NewRedisPresenceCacheFromClient[K comparable, V any](
	client *redis.Client,
	cfg *RedisConfig,
	logger zerolog.Logger,
) *RedisPresenceCache[K, V] {
	return &RedisPresenceCache[K, V]{
		redisClient: client,
		logger:      logger.With().Str("component", "RedisPresenceCache").Logger(),
		prefix:      cfg.KeyPrefix,
		ttl:         cfg.CacheTTL,
	}
}

func (c *RedisPresenceCache[K, V]) key(key K) string {
	return fmt.Sprintf("%s%v", c.prefix, key)
}

// Set marshals the value to JSON and stores it in Redis.
func (c *RedisPresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	stringKey := c.key(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data for key %s: %w", stringKey, err)
	}
	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence in redis for key %s: %w", stringKey, err)
	}
	c.logger.Debug().Str("key", stringKey).Msg("Presence stored.")
	return nil
}

// Fetch retrieves and unmarshals a value from Redis.
func (c *RedisPresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.key(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("key '%v': %w", key, ErrCacheMiss)
		}
		return zero, fmt.Errorf("redis get failed for key %s: %w", stringKey, err)
	}
	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal presence data for key %s: %w", stringKey, err)
	}
	return value, nil
}

// Delete removes a key from Redis.
func (c *RedisPresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	stringKey := c.key(key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Close closes the Redis client connection if this cache created it.
func (c *RedisPresenceCache[K, V]) Close() error {
	if c.redisClient != nil && c.ownsClient {
		return c.redisClient.Close()
	}
	return nil
}
