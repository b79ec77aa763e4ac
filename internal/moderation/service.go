// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package moderation bans, silences and reactivates users of a world.
//
// States move none → silenced → banned and back to none. A ban is sticky:
// silencing a banned user changes nothing. Transitions happen under a row
// lock on the user, so concurrent calls serialize and a ban is never
// downgraded by a racing silence.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/cache"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
	"github.com/holomush/worldgate/pkg/errutil"
)

// SystemActor moderates without an authorization check.
var SystemActor = access.Subject{}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Worlds   world.WorldRepository
	Users    world.UserRepository
	Audit    *audit.Log
	Tx       world.Transactor
	Checker  access.Checker
	Notifier world.ChangeNotifier
	Cache    cache.Invalidator
	Logger   *slog.Logger
}

// Service applies moderation transitions.
type Service struct {
	worlds   world.WorldRepository
	users    world.UserRepository
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
		users:    cfg.Users,
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

// transition describes one operation: the state it moves to, the states
// from which it is a no-op, and the audit action recorded on change.
type transition struct {
	to     access.ModerationState
	noopOn []access.ModerationState
	action audit.Action
}

var (
	ban = transition{
		to:     access.ModerationBanned,
		noopOn: []access.ModerationState{access.ModerationBanned},
		action: audit.ActionUserBanned,
	}
	silence = transition{
		to:     access.ModerationSilenced,
		noopOn: []access.ModerationState{access.ModerationSilenced, access.ModerationBanned},
		action: audit.ActionUserSilenced,
	}
	reactivate = transition{
		to:     access.ModerationNone,
		noopOn: []access.ModerationState{access.ModerationNone},
		action: audit.ActionUserReactivated,
	}
)

// SetBanned bans targetID. It reports whether the state changed.
func (s *Service) SetBanned(ctx context.Context, worldID, targetID string, actor access.Subject) (bool, error) {
	return s.apply(ctx, worldID, targetID, actor, ban)
}

// SetSilenced silences targetID. Silencing a banned user leaves them banned.
func (s *Service) SetSilenced(ctx context.Context, worldID, targetID string, actor access.Subject) (bool, error) {
	return s.apply(ctx, worldID, targetID, actor, silence)
}

// ClearModeration reactivates targetID.
func (s *Service) ClearModeration(ctx context.Context, worldID, targetID string, actor access.Subject) (bool, error) {
	return s.apply(ctx, worldID, targetID, actor, reactivate)
}

// DeleteUser marks targetID deleted. Deleted users hold no permissions and
// cannot be reactivated.
func (s *Service) DeleteUser(ctx context.Context, worldID, targetID string, actor access.Subject) error {
	if err := s.check(ctx, worldID, targetID, actor); err != nil {
		return err
	}
	keys := []string{cache.ModerationKey(worldID, targetID)}
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		u, err := s.users.GetForUpdate(ctx, worldID, targetID)
		if err != nil {
			return err
		}
		if u.Deleted {
			return userNotFound(worldID, targetID)
		}
		if err := s.users.MarkDeleted(ctx, worldID, targetID); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, audit.Entry{
			ActorID: actor.ID,
			WorldID: worldID,
			Action:  audit.ActionUserDeleted,
			Payload: audit.Payload{Object: targetID},
		}); err != nil {
			return err
		}
		return s.notify(ctx, keys)
	})
	if err != nil {
		return s.failed(err, worldID, targetID)
	}
	s.cache.Invalidate(ctx, keys...)
	return nil
}

// State returns the stored moderation state of targetID.
func (s *Service) State(ctx context.Context, worldID, targetID string) (access.ModerationState, error) {
	if err := world.ValidateIDs("world_id", worldID, "user_id", targetID); err != nil {
		return access.ModerationNone, world.Invalid(err)
	}
	return s.users.ModerationState(ctx, worldID, targetID)
}

func (s *Service) apply(ctx context.Context, worldID, targetID string, actor access.Subject, t transition) (bool, error) {
	if err := s.check(ctx, worldID, targetID, actor); err != nil {
		return false, err
	}

	var changed bool
	keys := []string{cache.ModerationKey(worldID, targetID)}
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		changed = false
		u, err := s.users.GetForUpdate(ctx, worldID, targetID)
		if err != nil {
			return err
		}
		if u.Deleted {
			return userNotFound(worldID, targetID)
		}
		from := u.Moderation
		if slices.Contains(t.noopOn, from) {
			return nil
		}
		if err := s.users.SetModeration(ctx, worldID, targetID, t.to); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, audit.Entry{
			ActorID: actor.ID,
			WorldID: worldID,
			Action:  t.action,
			Payload: audit.Payload{
				Object: targetID,
				Old:    map[string]string{"moderation_state": from.String()},
				New:    map[string]string{"moderation_state": t.to.String()},
			},
		}); err != nil {
			return err
		}
		changed = true
		return s.notify(ctx, keys)
	})
	if err != nil {
		return false, s.failed(err, worldID, targetID)
	}
	if changed {
		s.cache.Invalidate(ctx, keys...)
		s.logger.InfoContext(ctx, "moderation state changed",
			"world_id", worldID, "user_id", targetID, "actor_id", actor.ID, "state", t.to.String())
	}
	return changed, nil
}

// check validates the request, rejects self-moderation and authorizes the actor.
func (s *Service) check(ctx context.Context, worldID, targetID string, actor access.Subject) error {
	if err := world.ValidateIDs("world_id", worldID, "user_id", targetID); err != nil {
		return world.Invalid(err)
	}
	if actor.ID == targetID {
		return oops.In("moderation").
			Code("INVALID_REQUEST").
			With("user_id", targetID).
			Wrap(errors.Join(access.ErrInvalidRequest, errors.New("users cannot moderate themselves")))
	}
	if _, err := s.worlds.Get(ctx, worldID); err != nil {
		return err
	}
	if actor.ID == SystemActor.ID {
		return nil
	}
	req := access.Request{Subject: actor, WorldID: worldID}
	return access.Require(ctx, s.checker, req, access.Has(access.WorldUsersManage))
}

func (s *Service) notify(ctx context.Context, keys []string) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.NotifyChanged(ctx, keys...)
}

func (s *Service) failed(err error, worldID, targetID string) error {
	if errors.Is(err, store.ErrStorageFailure) {
		errutil.LogError(s.logger, "moderation change failed", err)
	}
	return oops.In("moderation").With("world_id", worldID).With("user_id", targetID).Wrap(err)
}

func userNotFound(worldID, userID string) error {
	return oops.In("moderation").
		Code("USER_NOT_FOUND").
		With("world_id", worldID).
		With("user_id", userID).
		Wrap(world.ErrNotFound)
}
