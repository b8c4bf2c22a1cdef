package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisPrefix = "session:"
	// maxWatchAttempts bounds the optimistic-lock loop when another writer
	// changes the key between WATCH and EXEC.
	maxWatchAttempts = 10
)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore keeps each record as a JSON document under KeyPrefix+id with no
// expiry. Upserts use WATCH/MULTI so concurrent writers never lose an insert.
type RedisStore struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	logger     zerolog.Logger
}

// NewRedisStore connects to Redis and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, cfg *RedisStoreConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for session store: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for session store.")

	s := NewRedisStoreFromClient(rdb, cfg, logger)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client; the caller keeps ownership.
func NewRedisStoreFromClient(client *redis.Client, cfg *RedisStoreConfig, logger zerolog.Logger) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// FindAndUpsert performs the upsert inside an optimistic transaction.
func (s *RedisStore) FindAndUpsert(ctx context.Context, id string, insertOnly, alwaysSet types.Record) (types.Record, error) {
	key := s.key(id)
	var next types.Record

	txf := func(tx *redis.Tx) error {
		current, exists, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next = types.Upsert(current, exists, insertOnly, alwaysSet)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal session %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxWatchAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return types.Record{}, fmt.Errorf("redis upsert failed for session %s: %w", id, err)
		}
		s.logger.Debug().Str("session_id", id).Int("attempt", attempt).Msg("Concurrent write detected, retrying upsert.")
	}
	return types.Record{}, fmt.Errorf("redis upsert for session %s: %w", id, redis.TxFailedErr)
}

// FindByID loads a record.
func (s *RedisStore) FindByID(ctx context.Context, id string) (types.Record, error) {
	rec, exists, err := s.load(ctx, s.client, s.key(id))
	if err != nil {
		return types.Record{}, fmt.Errorf("redis read failed for session %s: %w", id, err)
	}
	if !exists {
		return types.Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (types.Record, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Record{}, false, nil
		}
		return types.Record{}, false, err
	}
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Record{}, false, fmt.Errorf("failed to unmarshal session at %s: %w", key, err)
	}
	return rec, true, nil
}

// Close closes the client if this store created it.
func (s *RedisStore) Close() error {
	if s.client != nil && s.ownsClient {
		return s.client.Close()
	}
	return nil
}
