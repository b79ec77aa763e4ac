// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package grant manages explicit world and room role grants.
//
// Every mutation is authorized through the resolver, applied idempotently,
// audited in the same transaction and followed by a synchronous cache
// invalidation, so the next permission check on any node sees it.
package grant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/cache"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
	"github.com/holomush/worldgate/pkg/errutil"
)

// SystemActor performs mutations without an authorization check. Its audit
// entries carry no actor.
var SystemActor = access.Subject{}

// Scopes recorded in audit payloads.
const (
	scopeWorld = "world"
	scopeRoom  = "room"
)

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Worlds world.WorldRepository
	Rooms  world.RoomRepository
	Grants world.GrantRepository
	Audit  *audit.Log
	Tx     world.Transactor
	// Checker authorizes actors, normally the access.Resolver.
	Checker access.Checker
	// Notifier announces changed keys to other nodes inside the transaction.
	// Optional.
	Notifier world.ChangeNotifier
	// Cache is invalidated after commit. Optional.
	Cache  cache.Invalidator
	Logger *slog.Logger
}

// Service adds and removes grants.
type Service struct {
	worlds   world.WorldRepository
	rooms    world.RoomRepository
	grants   world.GrantRepository
	audit    *audit.Log
	tx       world.Transactor
	checker  access.Checker
	notifier world.ChangeNotifier
	cache    cache.Invalidator
	logger   *slog.Logger
}

// NewService creates a new Service with the given configuration.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		worlds:   cfg.Worlds,
		rooms:    cfg.Rooms,
		grants:   cfg.Grants,
		audit:    cfg.Audit,
		tx:       cfg.Tx,
		checker:  cfg.Checker,
		notifier: cfg.Notifier,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AddWorldGrant gives userID the role across worldID. It reports whether a
// grant was created; adding an existing grant succeeds without change.
// The actor needs world:update.
func (s *Service) AddWorldGrant(ctx context.Context, worldID, userID, role string, actor access.Subject) (bool, error) {
	g := world.WorldGrant{WorldID: worldID, UserID: userID, Role: role}
	return s.changeWorldGrant(ctx, g, actor, audit.ActionWorldGrantAdded, s.grants.AddWorldGrant)
}

// RemoveWorldGrant takes the role away. Removing a missing grant succeeds
// without change.
func (s *Service) RemoveWorldGrant(ctx context.Context, worldID, userID, role string, actor access.Subject) (bool, error) {
	g := world.WorldGrant{WorldID: worldID, UserID: userID, Role: role}
	return s.changeWorldGrant(ctx, g, actor, audit.ActionWorldGrantRemoved, s.grants.RemoveWorldGrant)
}

// AddRoomGrant gives userID the role inside roomID. The actor needs
// room:update in that room.
func (s *Service) AddRoomGrant(ctx context.Context, roomID, userID, role string, actor access.Subject) (bool, error) {
	return s.changeRoomGrant(ctx, roomID, userID, role, actor, audit.ActionRoomGrantAdded, s.grants.AddRoomGrant)
}

// RemoveRoomGrant takes a room role away.
func (s *Service) RemoveRoomGrant(ctx context.Context, roomID, userID, role string, actor access.Subject) (bool, error) {
	return s.changeRoomGrant(ctx, roomID, userID, role, actor, audit.ActionRoomGrantRemoved, s.grants.RemoveRoomGrant)
}

// ListWorldGrants returns the grants of a world, optionally for one user.
// The actor needs world:users.list.
func (s *Service) ListWorldGrants(ctx context.Context, worldID, userID string, actor access.Subject) ([]world.WorldGrant, error) {
	if err := world.ValidateID("world_id", worldID); err != nil {
		return nil, world.Invalid(err)
	}
	if _, err := s.worlds.Get(ctx, worldID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, worldID, "", access.WorldUsersList); err != nil {
		return nil, err
	}
	return s.grants.ListWorldGrants(ctx, worldID, userID)
}

// ListRoomGrants returns the grants of a room, optionally for one user.
// The actor needs world:users.list in the room's world.
func (s *Service) ListRoomGrants(ctx context.Context, roomID, userID string, actor access.Subject) ([]world.RoomGrant, error) {
	if err := world.ValidateID("room_id", roomID); err != nil {
		return nil, world.Invalid(err)
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, room.WorldID, "", access.WorldUsersList); err != nil {
		return nil, err
	}
	return s.grants.ListRoomGrants(ctx, roomID, userID)
}

func (s *Service) changeWorldGrant(
	ctx context.Context,
	g world.WorldGrant,
	actor access.Subject,
	action audit.Action,
	apply func(context.Context, world.WorldGrant) (bool, error),
) (bool, error) {
	if err := validate(g.WorldID, g.UserID, g.Role); err != nil {
		return false, err
	}
	if _, err := s.worlds.Get(ctx, g.WorldID); err != nil {
		return false, err
	}
	if err := s.authorize(ctx, actor, g.WorldID, "", access.WorldUpdate); err != nil {
		return false, err
	}

	keys := []string{cache.WorldRolesKey(g.WorldID, g.UserID)}
	return s.commit(ctx, g.WorldID, keys, func(ctx context.Context) (bool, audit.Entry, error) {
		changed, err := apply(ctx, g)
		if err != nil {
			return false, audit.Entry{}, err
		}
		return changed, entry(actor, g.WorldID, action, g.UserID, g.Role, scopeWorld, changed), nil
	})
}

func (s *Service) changeRoomGrant(
	ctx context.Context,
	roomID, userID, role string,
	actor access.Subject,
	action audit.Action,
	apply func(context.Context, world.RoomGrant) (bool, error),
) (bool, error) {
	if err := validate(roomID, userID, role); err != nil {
		return false, err
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, actor, room.WorldID, room.ID, access.RoomUpdate); err != nil {
		return false, err
	}

	g := world.RoomGrant{WorldID: room.WorldID, RoomID: room.ID, UserID: userID, Role: role}
	keys := []string{cache.RoomRolesKey(room.ID, userID), cache.WorldRolesKey(room.WorldID, userID)}
	return s.commit(ctx, room.WorldID, keys, func(ctx context.Context) (bool, audit.Entry, error) {
		changed, err := apply(ctx, g)
		if err != nil {
			return false, audit.Entry{}, err
		}
		e := entry(actor, room.WorldID, action, userID, role, scopeRoom, changed)
		e.Payload.Detail["room_id"] = room.ID
		return changed, e, nil
	})
}

// commit runs fn and appends its audit entry in one transaction, then
// invalidates keys.
func (s *Service) commit(ctx context.Context, worldID string, keys []string, fn func(context.Context) (bool, audit.Entry, error)) (bool, error) {
	var changed bool
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var (
			e   audit.Entry
			err error
		)
		changed, e, err = fn(ctx)
		if err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, e); err != nil {
			return err
		}
		if s.notifier != nil {
			return s.notifier.NotifyChanged(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrStorageFailure) {
			errutil.LogError(s.logger, "grant mutation failed", err)
		}
		return false, oops.In("grant").With("world_id", worldID).Wrap(err)
	}
	s.cache.Invalidate(ctx, keys...)
	return changed, nil
}

func (s *Service) authorize(ctx context.Context, actor access.Subject, worldID, roomID string, perm access.Permission) error {
	if actor.ID == SystemActor.ID {
		return nil
	}
	req := access.Request{Subject: actor, WorldID: worldID, RoomID: roomID}
	return access.Require(ctx, s.checker, req, access.Has(perm))
}

func validate(scopeID, userID, role string) error {
	if err := world.ValidateIDs("scope_id", scopeID, "user_id", userID); err != nil {
		return world.Invalid(err)
	}
	return world.Invalid(world.ValidateRole(role))
}

func entry(actor access.Subject, worldID string, action audit.Action, userID, role, scope string, changed bool) audit.Entry {
	return audit.Entry{
		ActorID: actor.ID,
		WorldID: worldID,
		Action:  action,
		Payload: audit.Payload{
			Object: userID,
			Detail: map[string]any{
				"role":    role,
				"scope":   scope,
				"changed": changed,
			},
		},
	}
}
