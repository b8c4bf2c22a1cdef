package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/illmade-knight/go-presence/pkg/bqstore"
	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/messagepipeline"
	"github.com/illmade-knight/go-presence/pkg/microservice"
	"github.com/illmade-knight/go-presence/pkg/presence"
	"github.com/illmade-knight/go-presence/pkg/sessionstore"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the store and cache sections.
const (
	backendMemory    = "memory"
	backendRedis     = "redis"
	backendFirestore = "firestore"
)

// Config is the presenced configuration file.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Presence presence.Config `yaml:"presence"`
	Store    StoreConfig     `yaml:"store"`
	Cache    CacheConfig     `yaml:"cache"`
	Activity ActivityConfig  `yaml:"activity"`
	Offline  OfflineConfig   `yaml:"offline"`
	Audit    AuditConfig     `yaml:"audit"`
}

// StoreConfig selects the durable session store.
type StoreConfig struct {
	Backend   string                        `yaml:"backend"`
	Redis     sessionstore.RedisStoreConfig `yaml:"redis"`
	Firestore sessionstore.FirestoreConfig  `yaml:"firestore"`
}

// CacheConfig selects the presence cache.
type CacheConfig struct {
	Backend             string            `yaml:"backend"`
	Redis               cache.RedisConfig `yaml:"redis"`
	FirestoreCollection string            `yaml:"firestore_collection"`
}

// ActivityConfig enables the Pub/Sub activity ingest.
type ActivityConfig struct {
	Enabled   bool                                       `yaml:"enabled"`
	Consumer  messagepipeline.GooglePubsubConsumerConfig `yaml:"consumer"`
	Streaming messagepipeline.StreamingServiceConfig     `yaml:"streaming"`
}

// OfflineConfig enables publishing offline events to Pub/Sub.
type OfflineConfig struct {
	Enabled   bool                                        `yaml:"enabled"`
	Publisher messagepipeline.GoogleSimplePublisherConfig `yaml:"publisher"`
}

// AuditConfig enables the BigQuery offline audit table.
type AuditConfig struct {
	Enabled bool                          `yaml:"enabled"`
	Table   bqstore.BigQueryDatasetConfig `yaml:"table"`
	Batch   bqstore.BatchInserterConfig   `yaml:"batch"`
}

// NewConfigDefaults returns a config that runs entirely in memory.
func NewConfigDefaults() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "presenced",
		},
		Presence: *presence.NewConfigDefaults(),
		Store: StoreConfig{
			Backend: backendMemory,
			Redis:   sessionstore.RedisStoreConfig{KeyPrefix: "session:"},
			Firestore: sessionstore.FirestoreConfig{
				CollectionName: "sessions",
			},
		},
		Cache: CacheConfig{
			Backend:             backendMemory,
			Redis:               cache.RedisConfig{KeyPrefix: "presence:"},
			FirestoreCollection: "presence",
		},
		Activity: ActivityConfig{
			Consumer:  *messagepipeline.NewGooglePubsubConsumerDefaults(""),
			Streaming: messagepipeline.StreamingServiceConfig{NumWorkers: 5},
		},
		Offline: OfflineConfig{
			Publisher: *messagepipeline.NewGoogleSimplePublisherDefaults(""),
		},
		Audit: AuditConfig{
			Batch: *bqstore.NewBatchInserterDefaults(),
		},
	}
}

// LoadConfig reads path over the defaults and then applies environment
// overrides. An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfigDefaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Presence.ApplyEnvOverrides()
	if v := os.Getenv("PRESENCE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PRESENCE_HTTP_PORT"); v != "" {
		c.HTTPPort = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" && c.ProjectID == "" {
		c.ProjectID = v
	}
	if v := os.Getenv("PRESENCE_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("PRESENCE_REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
		c.Cache.Redis.Password = v
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	needsProject := false

	switch strings.ToLower(c.Store.Backend) {
	case backendMemory:
	case backendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis store"))
		}
	case backendFirestore:
		needsProject = true
		if c.Store.Firestore.CollectionName == "" {
			errs = append(errs, errors.New("store.firestore.collection is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch strings.ToLower(c.Cache.Backend) {
	case backendMemory:
	case backendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis cache"))
		}
	case backendFirestore:
		needsProject = true
		if c.Cache.FirestoreCollection == "" {
			errs = append(errs, errors.New("cache.firestore_collection is required for the firestore cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	if c.Activity.Enabled {
		needsProject = true
		if c.Activity.Consumer.SubscriptionID == "" {
			errs = append(errs, errors.New("activity.consumer.subscription_id is required when activity is enabled"))
		}
	}
	if c.Offline.Enabled {
		needsProject = true
		if c.Offline.Publisher.TopicID == "" {
			errs = append(errs, errors.New("offline.publisher.topic_id is required when offline publishing is enabled"))
		}
	}
	if c.Audit.Enabled {
		needsProject = true
		if c.Audit.Table.DatasetID == "" || c.Audit.Table.TableID == "" {
			errs = append(errs, errors.New("audit.table.dataset_id and audit.table.table_id are required when audit is enabled"))
		}
	}
	if needsProject && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for Google Cloud backends"))
	}
	if c.Presence.OnlineTimeout <= 0 {
		errs = append(errs, errors.New("presence.online_timeout must be positive"))
	}

	return errors.Join(errs...)
}
