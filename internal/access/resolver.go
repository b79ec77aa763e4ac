// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/worldgate/pkg/errutil"
)

var tracer = otel.Tracer("worldgate/access")

// DefaultLookupTimeout bounds the configuration and grant lookups of one evaluation.
const DefaultLookupTimeout = 250 * time.Millisecond

const (
	opHasPermission  = "has_permission"
	opAllPermissions = "all_permissions"
)

// WorldConfig is the access configuration of one world.
type WorldConfig struct {
	WorldID     string
	Roles       RoleMap
	TraitGrants TraitGrants
}

// RoomConfig is the access configuration of one room.
type RoomConfig struct {
	RoomID      string
	WorldID     string
	TraitGrants TraitGrants
}

// ConfigSource loads role maps and trait grants.
// Implementations return an error wrapping ErrNotFound for unknown worlds or rooms.
type ConfigSource interface {
	WorldConfig(ctx context.Context, worldID string) (WorldConfig, error)
	RoomConfig(ctx context.Context, roomID string) (RoomConfig, error)
}

// GrantSource loads a user's explicit grants and stored moderation state.
// Users without stored records have no grants and ModerationNone.
type GrantSource interface {
	WorldRoles(ctx context.Context, worldID, userID string) ([]string, error)
	RoomRoles(ctx context.Context, roomID, userID string) ([]string, error)
	ModerationState(ctx context.Context, worldID, userID string) (ModerationState, error)
}

// Resolver computes effective permissions. It is safe for concurrent use and
// never mutates anything, so services may call it from inside their own
// operations.
type Resolver struct {
	config  ConfigSource
	grants  GrantSource
	timeout time.Duration
	logger  *slog.Logger
}

// ResolverOption configures a Resolver during construction.
type ResolverOption func(*Resolver)

// WithLookupTimeout sets the budget for the lookups of one evaluation.
// Non-positive values keep the default.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for fail-closed reports.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver over the given sources.
func NewResolver(config ConfigSource, grants GrantSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		config:  config,
		grants:  grants,
		timeout: DefaultLookupTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasPermission reports whether subject holds perm in the world, or in the
// room when roomID is not empty.
//
// Lookup failures and timeouts deny and are logged; only invalid input
// produces an error.
func (r *Resolver) HasPermission(ctx context.Context, subject Subject, worldID string, perm Permission, roomID string) (bool, error) {
	start := time.Now()
	if err := validateRequest(subject, worldID); err != nil {
		return false, err
	}

	ctx, span := tracer.Start(ctx, "access.has_permission",
		trace.WithAttributes(
			attribute.String("user.id", subject.ID),
			attribute.String("world.id", worldID),
			attribute.String("room.id", roomID),
			attribute.String("permission", string(perm)),
		),
	)
	defer span.End()

	if !perm.Valid() {
		slog.DebugContext(ctx, "permission check for unknown permission", "permission", perm)
		recordDecision(opHasPermission, start, false)
		return false, nil
	}

	allowed := r.resolve(ctx, subject, worldID, roomID).Has(perm)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	recordDecision(opHasPermission, start, allowed)
	return allowed, nil
}

// AllPermissions returns every permission subject holds in the world, or in
// the room when roomID is not empty. Failures yield the empty set.
func (r *Resolver) AllPermissions(ctx context.Context, subject Subject, worldID, roomID string) (PermissionSet, error) {
	start := time.Now()
	if err := validateRequest(subject, worldID); err != nil {
		return PermissionSet{}, err
	}

	ctx, span := tracer.Start(ctx, "access.all_permissions",
		trace.WithAttributes(
			attribute.String("user.id", subject.ID),
			attribute.String("world.id", worldID),
			attribute.String("room.id", roomID),
		),
	)
	defer span.End()

	set := r.resolve(ctx, subject, worldID, roomID)
	span.SetAttributes(attribute.Int("permissions", len(set)))
	recordDecision(opAllPermissions, start, len(set) > 0)
	return set, nil
}

// AllPermissionsByRoom returns the world-level set under worldID and the
// effective set inside each room under the room's ID.
func (r *Resolver) AllPermissionsByRoom(ctx context.Context, subject Subject, worldID string, roomIDs []string) (map[string]PermissionSet, error) {
	out := make(map[string]PermissionSet, len(roomIDs)+1)
	set, err := r.AllPermissions(ctx, subject, worldID, "")
	if err != nil {
		return nil, err
	}
	out[worldID] = set
	for _, roomID := range roomIDs {
		set, err := r.AllPermissions(ctx, subject, worldID, roomID)
		if err != nil {
			return nil, err
		}
		out[roomID] = set
	}
	return out, nil
}

func validateRequest(subject Subject, worldID string) error {
	if strings.TrimSpace(subject.ID) == "" {
		return oops.In("access").Code("INVALID_REQUEST").Wrapf(ErrInvalidRequest, "user id cannot be empty")
	}
	if strings.TrimSpace(worldID) == "" {
		return oops.In("access").Code("INVALID_REQUEST").Wrapf(ErrInvalidRequest, "world id cannot be empty")
	}
	return nil
}

// scopeData is everything one evaluation reads.
type scopeData struct {
	world      WorldConfig
	room       RoomConfig
	worldRoles []string
	roomRoles  []string
	stored     ModerationState
}

// resolve computes the effective set. It returns the empty set whenever the
// answer cannot be established.
func (r *Resolver) resolve(ctx context.Context, subject Subject, worldID, roomID string) PermissionSet {
	if subject.Deleted || subject.Moderation == ModerationBanned {
		return PermissionSet{}
	}

	data, err := r.load(ctx, subject.ID, worldID, roomID)
	if err != nil {
		r.deny(ctx, err, subject.ID, worldID, roomID)
		return PermissionSet{}
	}
	if roomID != "" && data.room.WorldID != worldID {
		slog.WarnContext(ctx, "room does not belong to world, denying",
			"room_id", roomID, "world_id", worldID, "room_world_id", data.room.WorldID)
		return PermissionSet{}
	}

	state := Stricter(subject.Moderation, data.stored)
	if state == ModerationBanned {
		return PermissionSet{}
	}

	traits := NewTraitSet(subject.Traits...)
	allowEmpty := subject.allowsEmptyExpressions()

	roles := make([]string, 0, len(data.worldRoles)+len(data.roomRoles)+4)
	roles = append(roles, data.worldRoles...)
	roles = append(roles, data.roomRoles...)
	roles = append(roles, data.world.TraitGrants.Matching(traits, allowEmpty)...)
	if roomID != "" {
		roles = append(roles, data.room.TraitGrants.Matching(traits, allowEmpty)...)
	}

	set := make(PermissionSet)
	for _, role := range roles {
		set.AddAll(data.world.Roles.Permissions(role))
	}

	if state == ModerationSilenced {
		set = set.Intersect(SilencedAllowList())
	}
	return set
}

// lookupError tags a source failure with the fail-closed reason it counts as.
type lookupError struct {
	reason string
	err    error
}

func (e *lookupError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// load runs the lookups of one evaluation concurrently under the lookup budget.
func (r *Resolver) load(ctx context.Context, userID, worldID, roomID string) (scopeData, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var data scopeData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data.world, err = r.config.WorldConfig(gctx, worldID)
		return tagLookup(reasonConfig, err)
	})
	g.Go(func() error {
		var err error
		data.worldRoles, err = r.grants.WorldRoles(gctx, worldID, userID)
		return tagLookup(reasonGrants, err)
	})
	g.Go(func() error {
		var err error
		data.stored, err = r.grants.ModerationState(gctx, worldID, userID)
		return tagLookup(reasonGrants, err)
	})
	if roomID != "" {
		g.Go(func() error {
			var err error
			data.room, err = r.config.RoomConfig(gctx, roomID)
			return tagLookup(reasonConfig, err)
		})
		g.Go(func() error {
			var err error
			data.roomRoles, err = r.grants.RoomRoles(gctx, roomID, userID)
			return tagLookup(reasonGrants, err)
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return scopeData{}, &lookupError{reason: reasonTimeout, err: ctx.Err()}
		}
		return scopeData{}, err
	}
	return data, nil
}

func tagLookup(reason string, err error) error {
	if err == nil {
		return nil
	}
	return &lookupError{reason: reason, err: err}
}

// deny reports a failed evaluation. Unknown worlds and rooms are ordinary
// denials; every other failure is a fail-closed event logged at error level.
func (r *Resolver) deny(ctx context.Context, err error, userID, worldID, roomID string) {
	if errors.Is(err, ErrNotFound) {
		slog.DebugContext(ctx, "permission check for unknown scope",
			"user_id", userID, "world_id", worldID, "room_id", roomID)
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.DebugContext(ctx, "permission check cancelled",
			"user_id", userID, "world_id", worldID, "room_id", roomID)
		return
	}

	reason := reasonGrants
	var le *lookupError
	if errors.As(err, &le) {
		reason = le.reason
	}
	failClosed.WithLabelValues(reason).Inc()

	builder := oops.In("access").
		With("reason", reason).
		With("user_id", userID).
		With("world_id", worldID).
		With("room_id", roomID)
	var wrapped error
	switch reason {
	case reasonConfig:
		wrapped = builder.Code("CONFIG_LOAD_FAILED").Wrap(errors.Join(ErrConfigLoad, err))
	case reasonTimeout:
		wrapped = builder.Code("LOOKUP_TIMEOUT").Wrap(err)
	default:
		wrapped = builder.Code("GRANT_LOOKUP_FAILED").Wrap(err)
	}
	errutil.LogError(r.logger, "permission evaluation failed closed", wrapped)
}
