package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-presence/pkg/activity"
	"github.com/illmade-knight/go-presence/pkg/bqstore"
	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/messagepipeline"
	"github.com/illmade-knight/go-presence/pkg/microservice"
	"github.com/illmade-knight/go-presence/pkg/presence"
	"github.com/illmade-knight/go-presence/pkg/sessionstore"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// app is a fully wired presenced instance.
type app struct {
	cfg    *Config
	logger zerolog.Logger

	manager   *presence.Manager
	server    *microservice.BaseServer
	ingest    *messagepipeline.StreamingService[activity.ActivityMessage]
	forwarder *messagepipeline.EventForwarder[presence.OfflineEvent]
	auditor   *bqstore.OfflineAuditor

	store         sessionstore.Store
	presenceCache cache.PresenceCache[string, types.Record]

	redisClients map[string]*redis.Client
	firestore    *firestore.Client
	pubsub       *pubsub.Client
	closers      []func() error
}

// newApp builds every component named by cfg. On error, whatever was
// already created is released.
func newApp(ctx context.Context, cfg *Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{
		cfg:          cfg,
		logger:       logger,
		redisClients: make(map[string]*redis.Client),
	}
	defer func() {
		if err != nil {
			a.closeClients()
		}
	}()

	if a.store, err = a.buildStore(ctx); err != nil {
		return nil, err
	}
	if a.presenceCache, err = a.buildCache(ctx); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := presence.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	a.manager, err = presence.New(&cfg.Presence, a.store, a.presenceCache, logger, presence.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	a.server = microservice.NewBaseServer(logger, cfg.HTTPPort, registry)
	for name, client := range a.redisClients {
		a.server.AddReadinessCheck("redis "+name, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	if cfg.Activity.Enabled {
		if err := a.buildIngest(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Offline.Enabled {
		if err := a.buildForwarder(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Audit.Enabled {
		if err := a.buildAuditor(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) clientOptions() []option.ClientOption {
	if a.cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.CredentialsFile)}
}

// redisClient returns one shared client per server address and database.
func (a *app) redisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	key := fmt.Sprintf("%s/%d", addr, db)
	if client, ok := a.redisClients[key]; ok {
		return client, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	a.redisClients[key] = client
	return client, nil
}

func (a *app) firestoreClient(ctx context.Context) (*firestore.Client, error) {
	if a.firestore != nil {
		return a.firestore, nil
	}
	client, err := firestore.NewClient(ctx, a.cfg.ProjectID, a.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	a.firestore = client
	return client, nil
}

func (a *app) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsub != nil {
		return a.pubsub, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.ProjectID, a.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	a.pubsub = client
	return client, nil
}

func (a *app) buildStore(ctx context.Context) (sessionstore.Store, error) {
	sc := a.cfg.Store
	switch strings.ToLower(sc.Backend) {
	case backendRedis:
		client, err := a.redisClient(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			return nil, err
		}
		return sessionstore.NewRedisStoreFromClient(client, &sc.Redis, a.logger), nil
	case backendFirestore:
		client, err := a.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		fsCfg := sc.Firestore
		if fsCfg.ProjectID == "" {
			fsCfg.ProjectID = a.cfg.ProjectID
		}
		return sessionstore.NewFirestoreStore(&fsCfg, client, a.logger)
	default:
		return sessionstore.NewInMemoryStore(), nil
	}
}

func (a *app) buildCache(ctx context.Context) (cache.PresenceCache[string, types.Record], error) {
	cc := a.cfg.Cache
	switch strings.ToLower(cc.Backend) {
	case backendRedis:
		client, err := a.redisClient(ctx, cc.Redis.Addr, cc.Redis.Password, cc.Redis.DB)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisPresenceCacheFromClient[string, types.Record](client, &cc.Redis, a.logger), nil
	case backendFirestore:
		client, err := a.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewFirestorePresenceCache[string, types.Record](client, cc.FirestoreCollection)
	default:
		return cache.NewInMemoryPresenceCache[string, types.Record](), nil
	}
}

func (a *app) buildIngest(ctx context.Context) error {
	client, err := a.pubsubClient(ctx)
	if err != nil {
		return err
	}
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&a.cfg.Activity.Consumer, client, a.logger)
	if err != nil {
		return err
	}
	a.ingest, err = activity.NewActivityService(a.cfg.Activity.Streaming, consumer, a.manager, a.logger)
	return err
}

func (a *app) buildForwarder(ctx context.Context) error {
	client, err := a.pubsubClient(ctx)
	if err != nil {
		return err
	}
	publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, &a.cfg.Offline.Publisher, client, a.logger)
	if err != nil {
		return err
	}
	events, _ := a.manager.Subscribe(0)
	a.forwarder, err = messagepipeline.NewEventForwarder[presence.OfflineEvent](events, publisher, offlineAttributes, a.logger)
	return err
}

func offlineAttributes(event presence.OfflineEvent) map[string]string {
	return map[string]string{
		"session_id": event.SessionID,
		"reason":     string(event.Reason),
	}
}

func (a *app) buildAuditor(ctx context.Context) error {
	tableCfg := a.cfg.Audit.Table
	if tableCfg.ProjectID == "" {
		tableCfg.ProjectID = a.cfg.ProjectID
	}
	credentials := tableCfg.CredentialsFile
	if credentials == "" {
		credentials = a.cfg.CredentialsFile
	}
	client, err := bqstore.NewProductionBigQueryClient(ctx, tableCfg.ProjectID, credentials, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)

	inserter, err := bqstore.NewBigQueryInserter[bqstore.OfflineAuditRow](ctx, client, &tableCfg, a.logger)
	if err != nil {
		return err
	}
	batcher := bqstore.NewBatcher[bqstore.OfflineAuditRow](&a.cfg.Audit.Batch, inserter, a.logger)
	events, _ := a.manager.Subscribe(0)
	a.auditor, err = bqstore.NewOfflineAuditor(events, batcher, a.logger)
	return err
}

// start brings up the consumers of offline events before the ingest so no
// early transition is missed, then the ops server.
func (a *app) start(ctx context.Context) error {
	if a.forwarder != nil {
		a.forwarder.Start(ctx)
	}
	if a.auditor != nil {
		a.auditor.Start(ctx)
	}
	if a.ingest != nil {
		if err := a.ingest.Start(ctx); err != nil {
			return fmt.Errorf("failed to start activity ingest: %w", err)
		}
	}
	return a.server.Start()
}

// shutdown stops components in dependency order, bounded by ctx, and
// returns every error met on the way.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.ingest != nil {
		if err := a.ingest.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("activity ingest: %w", err))
		}
	}
	// Closing the manager closes the offline subscriptions, ending the
	// forwarder and auditor loops.
	if err := a.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.forwarder != nil {
		if err := a.forwarder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("offline forwarder: %w", err))
		}
	}
	if a.auditor != nil {
		if err := a.auditor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("offline auditor: %w", err))
		}
	}
	if err := a.presenceCache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeClients())
	return errors.Join(errs...)
}

func (a *app) closeClients() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	if a.pubsub != nil {
		errs = append(errs, a.pubsub.Close())
	}
	if a.firestore != nil {
		errs = append(errs, a.firestore.Close())
	}
	for _, client := range a.redisClients {
		errs = append(errs, client.Close())
	}
	return errors.Join(errs...)
}
