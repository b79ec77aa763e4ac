// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package roles changes the access configuration of worlds and rooms: role
// maps and trait grants. Changes are authorized, audited with their old and
// new values in the same transaction, and invalidate the configuration cache
// on every node.
package roles

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

// SystemActor changes configuration without an authorization check. Only
// the system actor can create worlds.
var SystemActor = access.Subject{}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Worlds   world.WorldRepository
	Rooms    world.RoomRepository
	Audit    *audit.Log
	Tx       world.Transactor
	Checker  access.Checker
	Notifier world.ChangeNotifier
	Cache    cache.Invalidator
	Logger   *slog.Logger
}

// Service changes role maps and trait grants.
type Service struct {
	worlds   world.WorldRepository
	rooms    world.RoomRepository
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

// change is one audited write. run applies it inside the transaction and
// returns the audit entry describing it.
type change struct {
	key string
	run func(ctx context.Context) (audit.Entry, error)
}

// SetRoleMap replaces the role map of a world. The actor needs world:update.
func (s *Service) SetRoleMap(ctx context.Context, worldID string, roles access.RoleMap, actor access.Subject) error {
	if err := s.authorizeWorld(ctx, worldID, actor); err != nil {
		return err
	}
	return s.commit(ctx, worldID, []change{s.roleMapChange(worldID, roles, actor)})
}

// SetWorldTraitGrants replaces the world-wide trait grants of a world.
// The actor needs world:update.
func (s *Service) SetWorldTraitGrants(ctx context.Context, worldID string, grants access.TraitGrants, actor access.Subject) error {
	if err := grants.Validate(); err != nil {
		return err
	}
	if err := s.authorizeWorld(ctx, worldID, actor); err != nil {
		return err
	}
	return s.commit(ctx, worldID, []change{s.worldGrantsChange(worldID, grants, actor)})
}

// SetRoomTraitGrants replaces the trait grants of a room. The actor needs
// room:update in the room.
func (s *Service) SetRoomTraitGrants(ctx context.Context, roomID string, grants access.TraitGrants, actor access.Subject) error {
	if err := grants.Validate(); err != nil {
		return err
	}
	room, err := s.authorizeRoom(ctx, roomID, actor)
	if err != nil {
		return err
	}
	return s.commit(ctx, room.WorldID, []change{s.roomGrantsChange(room, grants, actor)})
}

// Apply writes every section of cfg in one transaction. Rooms must belong
// to the configured world.
func (s *Service) Apply(ctx context.Context, cfg *Config, actor access.Subject) error {
	if cfg.Roles != nil || cfg.TraitGrants != nil {
		if err := s.authorizeWorld(ctx, cfg.WorldID, actor); err != nil {
			return err
		}
	}
	var changes []change
	if cfg.Roles != nil {
		changes = append(changes, s.roleMapChange(cfg.WorldID, *cfg.Roles, actor))
	}
	if cfg.TraitGrants != nil {
		changes = append(changes, s.worldGrantsChange(cfg.WorldID, cfg.TraitGrants, actor))
	}
	for _, id := range cfg.RoomIDs() {
		room, err := s.authorizeRoom(ctx, id, actor)
		if err != nil {
			return err
		}
		if room.WorldID != cfg.WorldID {
			return oops.In("roles").
				Code("INVALID_ROLES_DOCUMENT").
				With("room_id", id).
				With("world_id", cfg.WorldID).
				Wrap(errors.Join(access.ErrInvalidRequest, errors.New("room belongs to another world")))
		}
		changes = append(changes, s.roomGrantsChange(room, cfg.Rooms[id], actor))
	}
	if len(changes) == 0 {
		return nil
	}
	return s.commit(ctx, cfg.WorldID, changes)
}

// CreateWorld stores a new world. Only the system actor may create worlds.
func (s *Service) CreateWorld(ctx context.Context, w *world.World, actor access.Subject) error {
	if err := w.Validate(); err != nil {
		return world.Invalid(err)
	}
	if err := w.PinVocabulary(); err != nil {
		return world.Invalid(err)
	}
	if actor.ID != SystemActor.ID {
		return oops.In("roles").Code("PERMISSION_DENIED").With("user_id", actor.ID).Wrap(access.ErrPermissionDenied)
	}
	return s.commit(ctx, w.ID, []change{{
		key: cache.WorldKey(w.ID),
		run: func(ctx context.Context) (audit.Entry, error) {
			if err := s.worlds.Create(ctx, w); err != nil {
				return audit.Entry{}, err
			}
			return entry(actor, w.ID, audit.ActionWorldCreated, w.ID, nil, map[string]any{"name": w.Name}), nil
		},
	}})
}

// CreateRoom stores a new room. The actor needs world:update.
func (s *Service) CreateRoom(ctx context.Context, r *world.Room, actor access.Subject) error {
	if err := r.Validate(); err != nil {
		return world.Invalid(err)
	}
	if err := s.authorizeWorld(ctx, r.WorldID, actor); err != nil {
		return err
	}
	return s.commit(ctx, r.WorldID, []change{{
		key: cache.RoomKey(r.ID),
		run: func(ctx context.Context) (audit.Entry, error) {
			if err := s.rooms.Create(ctx, r); err != nil {
				return audit.Entry{}, err
			}
			return entry(actor, r.WorldID, audit.ActionRoomCreated, r.ID, nil, map[string]any{"name": r.Name}), nil
		},
	}})
}

func (s *Service) roleMapChange(worldID string, roles access.RoleMap, actor access.Subject) change {
	return change{
		key: cache.WorldKey(worldID),
		run: func(ctx context.Context) (audit.Entry, error) {
			current, err := s.worlds.Get(ctx, worldID)
			if err != nil {
				return audit.Entry{}, err
			}
			if err := s.worlds.UpdateRoles(ctx, worldID, roles); err != nil {
				return audit.Entry{}, err
			}
			return entry(actor, worldID, audit.ActionWorldRolesUpdated, worldID, current.Roles.Source(), roles.Source()), nil
		},
	}
}

func (s *Service) worldGrantsChange(worldID string, grants access.TraitGrants, actor access.Subject) change {
	return change{
		key: cache.WorldKey(worldID),
		run: func(ctx context.Context) (audit.Entry, error) {
			current, err := s.worlds.Get(ctx, worldID)
			if err != nil {
				return audit.Entry{}, err
			}
			if err := s.worlds.UpdateTraitGrants(ctx, worldID, grants); err != nil {
				return audit.Entry{}, err
			}
			return entry(actor, worldID, audit.ActionWorldTraitGrantsSet, worldID, current.TraitGrants, grants.Clone()), nil
		},
	}
}

func (s *Service) roomGrantsChange(room *world.Room, grants access.TraitGrants, actor access.Subject) change {
	return change{
		key: cache.RoomKey(room.ID),
		run: func(ctx context.Context) (audit.Entry, error) {
			current, err := s.rooms.Get(ctx, room.ID)
			if err != nil {
				return audit.Entry{}, err
			}
			if err := s.rooms.UpdateTraitGrants(ctx, room.ID, grants); err != nil {
				return audit.Entry{}, err
			}
			return entry(actor, room.WorldID, audit.ActionRoomTraitGrantsSet, room.ID, current.TraitGrants, grants.Clone()), nil
		},
	}
}

// commit runs changes in one transaction, auditing each, and invalidates
// their keys after commit.
func (s *Service) commit(ctx context.Context, worldID string, changes []change) error {
	keys := make([]string, 0, len(changes))
	for _, c := range changes {
		keys = append(keys, c.key)
	}
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		for _, c := range changes {
			e, err := c.run(ctx)
			if err != nil {
				return err
			}
			if _, err := s.audit.Append(ctx, e); err != nil {
				return err
			}
		}
		if s.notifier != nil {
			return s.notifier.NotifyChanged(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrStorageFailure) {
			errutil.LogError(s.logger, "configuration change failed", err)
		}
		return oops.In("roles").With("world_id", worldID).Wrap(err)
	}
	s.cache.Invalidate(ctx, keys...)
	s.logger.InfoContext(ctx, "access configuration changed", "world_id", worldID, "keys", keys)
	return nil
}

func (s *Service) authorizeWorld(ctx context.Context, worldID string, actor access.Subject) error {
	if err := world.ValidateID("world_id", worldID); err != nil {
		return world.Invalid(err)
	}
	if _, err := s.worlds.Get(ctx, worldID); err != nil {
		return err
	}
	return s.authorize(ctx, actor, worldID, "", access.WorldUpdate)
}

func (s *Service) authorizeRoom(ctx context.Context, roomID string, actor access.Subject) (*world.Room, error) {
	if err := world.ValidateID("room_id", roomID); err != nil {
		return nil, world.Invalid(err)
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, room.WorldID, room.ID, access.RoomUpdate); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Service) authorize(ctx context.Context, actor access.Subject, worldID, roomID string, perm access.Permission) error {
	if actor.ID == SystemActor.ID {
		return nil
	}
	req := access.Request{Subject: actor, WorldID: worldID, RoomID: roomID}
	return access.Require(ctx, s.checker, req, access.Has(perm))
}

func entry(actor access.Subject, worldID string, action audit.Action, object string, old, updated any) audit.Entry {
	return audit.Entry{
		ActorID: actor.ID,
		WorldID: worldID,
		Action:  action,
		Payload: audit.Payload{Object: object, Old: old, New: updated},
	}
}
