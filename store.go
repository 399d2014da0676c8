package main

import (
	"context"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/config"
	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/pool"
)

// openEventStore builds the configured event store and makes sure its schema
// exists. The returned func shuts down the connection pool behind the store.
func openEventStore(ctx context.Context, conf *config.Config) (events.Store, func() error, error) {
	noop := func() error { return nil }

	var (
		store    events.Store
		shutdown = noop
	)

	switch conf.EventsStorage.Type {
	case storages.InMemoryStorageType:
		store = events.NewInMemory()

	case storages.RedisStorageType:
		opts, err := conf.Redis.RedisOptions()
		if err != nil {
			return nil, noop, err
		}
		p := pool.NewRedis(opts, pool.WithHealthCheck(conf.Durations.RedisHealthCheck))
		shutdown = p.Shutdown
		store = events.NewRedisStorage(p, events.WithRedisPageSize(conf.EventsStorage.ReplayPageSize))

	case storages.SQLStorageType:
		p := pool.NewSQL(
			conf.Database.Driver,
			conf.Database.DataSourceName(),
			conf.SQLLimits(),
			pool.WithHealthCheck(conf.Durations.DbHealthCheck),
		)
		shutdown = p.Shutdown
		sqlStore, err := events.NewSQLStorage(p, conf.Database.Driver, conf.EventsStorage.Table,
			events.WithSQLPageSize(conf.EventsStorage.ReplayPageSize),
		)
		if err != nil {
			_ = p.Shutdown()
			return nil, noop, err
		}
		store = sqlStore

	default:
		return nil, noop, errors.Newf("unknown events storage type: %s", conf.EventsStorage.Type)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		_ = shutdown()
		return nil, noop, err
	}

	log.WithField("events_storage", conf.EventsStorage.Type).Debug("Events storage is ready")
	return store, shutdown, nil
}
