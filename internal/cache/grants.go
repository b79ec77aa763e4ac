// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/world"
)

// Backend stores encoded grant-cache values.
//
// Fills are conditional: a caller reads the key's version before loading
// from the repositories and stores only if no Delete or Flush advanced the
// version since. A backend shared by several nodes keeps the versions in
// the shared store.
type Backend interface {
	// Get returns the value under key; ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Version returns an opaque stamp that changes whenever key is deleted
	// or the backend is flushed.
	Version(ctx context.Context, key string) (string, error)
	// SetIfVersion stores value under key if key's version still equals
	// version. stored reports whether it did.
	SetIfVersion(ctx context.Context, key, version string, value []byte) (stored bool, err error)
	// Delete drops keys and advances their versions.
	Delete(ctx context.Context, keys ...string) error
	// Flush drops every entry the backend holds for this cache and advances
	// every version.
	Flush(ctx context.Context) error
}

// GrantCache implements access.GrantSource over the grant and user
// repositories. Backend failures fall through to the repositories.
type GrantCache struct {
	grants  world.GrantRepository
	users   world.UserRepository
	backend Backend
	logger  *slog.Logger
}

// NewGrantCache creates a grant cache. A nil backend caches in memory.
func NewGrantCache(grants world.GrantRepository, users world.UserRepository, backend Backend, logger *slog.Logger) *GrantCache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantCache{grants: grants, users: users, backend: backend, logger: logger}
}

// WorldRoles implements access.GrantSource.
func (c *GrantCache) WorldRoles(ctx context.Context, worldID, userID string) ([]string, error) {
	var roles []string
	err := c.through(ctx, WorldRolesKey(worldID, userID), &roles, func() (any, error) {
		return c.grants.WorldRoles(ctx, worldID, userID)
	})
	return roles, err
}

// RoomRoles implements access.GrantSource.
func (c *GrantCache) RoomRoles(ctx context.Context, roomID, userID string) ([]string, error) {
	var roles []string
	err := c.through(ctx, RoomRolesKey(roomID, userID), &roles, func() (any, error) {
		return c.grants.RoomRoles(ctx, roomID, userID)
	})
	return roles, err
}

// ModerationState implements access.GrantSource.
func (c *GrantCache) ModerationState(ctx context.Context, worldID, userID string) (access.ModerationState, error) {
	var state access.ModerationState
	err := c.through(ctx, ModerationKey(worldID, userID), &state, func() (any, error) {
		return c.users.ModerationState(ctx, worldID, userID)
	})
	return state, err
}

// through decodes the cached value under key into dst, or loads it, stores
// it and decodes the loaded value. The store is skipped when the key was
// invalidated during the load, on this node or any other.
func (c *GrantCache) through(ctx context.Context, key string, dst any, fetch func() (any, error)) error {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		backendErrorsCounter.WithLabelValues("get").Inc()
		c.logger.WarnContext(ctx, "grant cache read failed", "key", key, "error", err)
	}
	if ok {
		if err := json.Unmarshal(raw, dst); err == nil {
			hitsCounter.WithLabelValues(cacheGrants).Inc()
			return nil
		}
		c.logger.WarnContext(ctx, "grant cache entry unreadable", "key", key)
	}
	missesCounter.WithLabelValues(cacheGrants).Inc()

	version, verr := c.backend.Version(ctx, key)
	if verr != nil {
		backendErrorsCounter.WithLabelValues("version").Inc()
		c.logger.WarnContext(ctx, "grant cache version read failed", "key", key, "error", verr)
	}
	v, err := fetch()
	if err != nil {
		return err
	}
	raw, err = json.Marshal(v)
	if err != nil {
		return err
	}
	if verr == nil {
		stored, err := c.backend.SetIfVersion(ctx, key, version, raw)
		switch {
		case err != nil:
			backendErrorsCounter.WithLabelValues("set").Inc()
			c.logger.WarnContext(ctx, "grant cache write failed", "key", key, "error", err)
		case !stored:
			c.logger.DebugContext(ctx, "grant cache fill dropped after invalidation", "key", key)
		}
	}
	return json.Unmarshal(raw, dst)
}

// Invalidate drops the given keys, or everything when keys is empty.
// Keys that do not name grant entries are ignored.
func (c *GrantCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		if err := c.backend.Flush(ctx); err != nil {
			backendErrorsCounter.WithLabelValues("flush").Inc()
			c.logger.WarnContext(ctx, "grant cache flush failed", "error", err)
		}
		c.logger.DebugContext(ctx, "grant cache cleared")
		return
	}
	keys = slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return !isGrantKey(k) })
	if len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		backendErrorsCounter.WithLabelValues("delete").Inc()
		c.logger.WarnContext(ctx, "grant cache delete failed", "keys", keys, "error", err)
		return
	}
	invalidationsCounter.WithLabelValues(cacheGrants).Add(float64(len(keys)))
}

// HandleChange is the change-notice callback form of Invalidate.
func (c *GrantCache) HandleChange(keys []string) {
	c.Invalidate(context.Background(), keys...)
}

// MemoryBackend is a process-local Backend. It keeps one version for all
// keys, so any deletion drops every fill in flight.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	gen     uint64
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.entries[key]
	return v, ok, nil
}

// Version implements Backend.
func (b *MemoryBackend) Version(context.Context, string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strconv.FormatUint(b.gen, 10), nil
}

// SetIfVersion implements Backend.
func (b *MemoryBackend) SetIfVersion(_ context.Context, key, version string, value []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strconv.FormatUint(b.gen, 10) != version {
		return false, nil
	}
	b.entries[key] = slices.Clone(value)
	return true, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	for _, k := range keys {
		delete(b.entries, k)
	}
	return nil
}

// Flush implements Backend.
func (b *MemoryBackend) Flush(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	clear(b.entries)
	return nil
}

// Len returns the number of entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Compile-time interface checks.
var (
	_ access.GrantSource = (*GrantCache)(nil)
	_ Invalidator        = (*GrantCache)(nil)
	_ Backend            = (*MemoryBackend)(nil)
)
