// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	auditpg "github.com/holomush/worldgate/internal/audit/postgres"
	"github.com/holomush/worldgate/internal/cache"
	"github.com/holomush/worldgate/internal/config"
	"github.com/holomush/worldgate/internal/grant"
	"github.com/holomush/worldgate/internal/moderation"
	"github.com/holomush/worldgate/internal/roles"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/store/memory"
	"github.com/holomush/worldgate/internal/world"
	worldpg "github.com/holomush/worldgate/internal/world/postgres"
)

// app is the wired application: storage, caches, resolver and services.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	worlds world.WorldRepository
	rooms  world.RoomRepository
	users  world.UserRepository
	grants world.GrantRepository
	tx     world.Transactor

	configs     *cache.ConfigCache
	grantCache  *cache.GrantCache
	invalidator cache.Invalidator
	resolver    *access.Resolver
	audit       *audit.Log

	grantSvc      *grant.Service
	moderationSvc *moderation.Service
	rolesSvc      *roles.Service

	// ready reports whether storage is reachable.
	ready func(ctx context.Context) bool
	// runners are the background loops serve starts.
	runners []func(ctx context.Context) error
	closers []func()
}

// newApp wires the application described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, ready: func(context.Context) bool { return true }}
	var notifier world.ChangeNotifier

	switch cfg.Store.Driver {
	case config.StoreMemory:
		s := memory.New()
		a.worlds, a.rooms, a.users, a.grants, a.tx = s.Worlds(), s.Rooms(), s.Users(), s.Grants(), s
		a.audit = audit.NewLog(s.Audit())
		notifier = s
		s.Subscribe(a.handleChange)
	default:
		pool, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Database.AutoMigrate {
			if err := migrateUp(cfg.Database.URL); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.worlds = worldpg.NewWorldRepository(pool)
		a.rooms = worldpg.NewRoomRepository(pool)
		a.users = worldpg.NewUserRepository(pool)
		a.grants = worldpg.NewGrantRepository(pool)
		a.tx = store.NewTransactor(pool)
		a.audit = audit.NewLog(auditpg.NewRepository(pool))
		a.ready = pingReady(pool)
		if cfg.Cache.Invalidation == config.InvalidationPostgres {
			notifier = worldpg.NewNotifier(pool)
			a.runners = append(a.runners, worldpg.NewListener(pool, a.handleChange, logger).Run)
		}
	}

	var (
		backend   cache.Backend
		broadcast cache.Invalidator
	)
	if cfg.NeedsRedis() {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { closeRedis(client, logger) })
		if cfg.Cache.Backend == config.CacheRedis {
			backend = cache.NewRedisBackend(client, cfg.Redis.TTL)
		}
		if cfg.Cache.Invalidation == config.InvalidationRedis {
			broadcast = cache.Broadcast{Publisher: cache.NewRedisPublisher(client), Logger: logger}
			a.runners = append(a.runners, cache.NewRedisSubscriber(client, a.handleChange, logger).Run)
		}
	}

	a.configs = cache.NewConfigCache(a.worlds, a.rooms,
		cache.WithLoadTimeout(cfg.Cache.LoadTimeout),
		cache.WithConfigLogger(logger),
	)
	a.grantCache = cache.NewGrantCache(a.grants, a.users, backend, logger)
	a.invalidator = cache.Multi{a.configs, a.grantCache, broadcast}
	a.resolver = access.NewResolver(a.configs, a.grantCache,
		access.WithLookupTimeout(cfg.Resolver.LookupTimeout),
		access.WithLogger(logger),
	)

	a.grantSvc = grant.NewService(grant.ServiceConfig{
		Worlds:   a.worlds,
		Rooms:    a.rooms,
		Grants:   a.grants,
		Audit:    a.audit,
		Tx:       a.tx,
		Checker:  a.resolver,
		Notifier: notifier,
		Cache:    a.invalidator,
		Logger:   logger,
	})
	a.moderationSvc = moderation.NewService(moderation.ServiceConfig{
		Worlds:   a.worlds,
		Users:    a.users,
		Audit:    a.audit,
		Tx:       a.tx,
		Checker:  a.resolver,
		Notifier: notifier,
		Cache:    a.invalidator,
		Logger:   logger,
	})
	a.rolesSvc = roles.NewService(roles.ServiceConfig{
		Worlds:   a.worlds,
		Rooms:    a.rooms,
		Audit:    a.audit,
		Tx:       a.tx,
		Checker:  a.resolver,
		Notifier: notifier,
		Cache:    a.invalidator,
		Logger:   logger,
	})
	return a, nil
}

// handleChange applies change notices from other nodes. A shared Redis
// grant cache is already up to date, so only in-process entries are dropped.
func (a *app) handleChange(keys []string) {
	a.configs.HandleChange(keys)
	if a.cfg.Cache.Backend == config.CacheMemory {
		a.grantCache.HandleChange(keys)
	}
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// subject returns the actor for an admin command. An empty user ID is the
// system actor, which bypasses authorization.
func (a *app) subject(ctx context.Context, worldID, userID string) (access.Subject, error) {
	if userID == "" {
		return access.Subject{}, nil
	}
	return world.LoadSubject(ctx, a.users, worldID, userID)
}

func pingReady(pool *pgxpool.Pool) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	}
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Debug("closing redis client", "error", err)
	}
}
