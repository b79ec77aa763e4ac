// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/world"
)

// DefaultLoadTimeout bounds one shared repository load.
const DefaultLoadTimeout = 5 * time.Second

// ConfigCache implements access.ConfigSource over the world and room
// repositories. Entries are immutable snapshots read without locks and are
// only dropped by explicit invalidation.
//
// Callers must not pass a transaction context; loads run on their own
// goroutine and may outlive the caller.
type ConfigCache struct {
	worlds  world.WorldRepository
	rooms   world.RoomRepository
	entries sync.Map
	group   singleflight.Group
	// gen changes on every invalidation. A load only stores its result if
	// gen is unchanged; mu makes that check and the store atomic with
	// respect to invalidation.
	gen         atomic.Uint64
	mu          sync.Mutex
	loadTimeout time.Duration
	logger      *slog.Logger
}

// ConfigOption configures a ConfigCache.
type ConfigOption func(*ConfigCache)

// WithLoadTimeout sets the budget of one shared load.
func WithLoadTimeout(d time.Duration) ConfigOption {
	return func(c *ConfigCache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithConfigLogger sets the logger.
func WithConfigLogger(l *slog.Logger) ConfigOption {
	return func(c *ConfigCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConfigCache creates an empty cache.
func NewConfigCache(worlds world.WorldRepository, rooms world.RoomRepository, opts ...ConfigOption) *ConfigCache {
	c := &ConfigCache{
		worlds:      worlds,
		rooms:       rooms,
		loadTimeout: DefaultLoadTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorldConfig implements access.ConfigSource. The returned value is shared
// and must not be modified.
func (c *ConfigCache) WorldConfig(ctx context.Context, worldID string) (access.WorldConfig, error) {
	v, err := c.load(ctx, WorldKey(worldID), func(ctx context.Context) (any, error) {
		w, err := c.worlds.Get(ctx, worldID)
		if err != nil {
			return nil, err
		}
		return w.Config(), nil
	})
	if err != nil {
		return access.WorldConfig{}, err
	}
	return v.(access.WorldConfig), nil //nolint:forcetypeassert // only WorldConfig is stored under world keys
}

// RoomConfig implements access.ConfigSource. The returned value is shared
// and must not be modified.
func (c *ConfigCache) RoomConfig(ctx context.Context, roomID string) (access.RoomConfig, error) {
	v, err := c.load(ctx, RoomKey(roomID), func(ctx context.Context) (any, error) {
		r, err := c.rooms.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return r.Config(), nil
	})
	if err != nil {
		return access.RoomConfig{}, err
	}
	return v.(access.RoomConfig), nil //nolint:forcetypeassert // only RoomConfig is stored under room keys
}

func (c *ConfigCache) load(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := c.entries.Load(key); ok {
		hitsCounter.WithLabelValues(cacheConfig).Inc()
		return v, nil
	}
	missesCounter.WithLabelValues(cacheConfig).Inc()

	gen := c.gen.Load()
	ch := c.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		v, err := fetch(lctx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(key, gen, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *ConfigCache) storeIfCurrent(key string, gen uint64, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen.Load() != gen {
		return false
	}
	c.entries.Store(key, v)
	return true
}

// Invalidate drops the given keys, or everything when keys is empty.
// Keys that do not name config entries are ignored.
func (c *ConfigCache) Invalidate(_ context.Context, keys ...string) {
	c.HandleChange(keys)
}

// HandleChange is the change-notice callback form of Invalidate. A nil or
// empty key set drops every entry.
func (c *ConfigCache) HandleChange(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	if len(keys) == 0 {
		n := 0
		c.entries.Range(func(k, _ any) bool {
			c.entries.Delete(k)
			n++
			return true
		})
		invalidationsCounter.WithLabelValues(cacheConfig).Add(float64(n))
		c.logger.Debug("config cache cleared", "entries", n)
		return
	}
	for _, k := range keys {
		if !isConfigKey(k) {
			continue
		}
		c.entries.Delete(k)
		invalidationsCounter.WithLabelValues(cacheConfig).Inc()
	}
	c.logger.Debug("config cache invalidated", "keys", strings.Join(keys, " "))
}

// Len returns the number of cached entries.
func (c *ConfigCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Compile-time interface checks.
var (
	_ access.ConfigSource = (*ConfigCache)(nil)
	_ Invalidator         = (*ConfigCache)(nil)
)
