// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"context"

	"github.com/holomush/worldgate/internal/access"
)

// Transactor runs fn inside a transaction. Repository calls made with the
// context passed to fn participate in it. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorldRepository manages world persistence.
type WorldRepository interface {
	// Get retrieves a world by ID.
	Get(ctx context.Context, id string) (*World, error)

	// Create persists a new world.
	Create(ctx context.Context, w *World) error

	// List returns every world ordered by ID.
	List(ctx context.Context) ([]*World, error)

	// UpdateRoles replaces the world's role map.
	UpdateRoles(ctx context.Context, id string, roles access.RoleMap) error

	// UpdateTraitGrants replaces the world's trait grants.
	UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error
}

// RoomRepository manages room persistence.
type RoomRepository interface {
	// Get retrieves a room by ID.
	Get(ctx context.Context, id string) (*Room, error)

	// Create persists a new room.
	Create(ctx context.Context, r *Room) error

	// ListByWorld returns the rooms of a world ordered by ID.
	ListByWorld(ctx context.Context, worldID string) ([]*Room, error)

	// UpdateTraitGrants replaces the room's trait grants.
	UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Get retrieves a user of a world.
	Get(ctx context.Context, worldID, userID string) (*User, error)

	// GetForUpdate retrieves a user and locks the record until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, worldID, userID string) (*User, error)

	// Upsert creates the user or refreshes its type and traits.
	// Moderation state is never changed by Upsert.
	Upsert(ctx context.Context, u *User) error

	// SetModeration stores a new moderation state.
	SetModeration(ctx context.Context, worldID, userID string, state access.ModerationState) error

	// MarkDeleted flags the user as deleted. Deleted users hold no permissions.
	MarkDeleted(ctx context.Context, worldID, userID string) error

	// ModerationState returns the stored state. Unknown users are
	// ModerationNone and deleted users are ModerationBanned.
	ModerationState(ctx context.Context, worldID, userID string) (access.ModerationState, error)
}

// GrantRepository manages explicit role grants.
// Add and Remove report whether a row was actually inserted or deleted.
type GrantRepository interface {
	AddWorldGrant(ctx context.Context, g WorldGrant) (bool, error)
	RemoveWorldGrant(ctx context.Context, g WorldGrant) (bool, error)
	AddRoomGrant(ctx context.Context, g RoomGrant) (bool, error)
	RemoveRoomGrant(ctx context.Context, g RoomGrant) (bool, error)

	// WorldRoles returns the roles a user holds on a world, sorted.
	WorldRoles(ctx context.Context, worldID, userID string) ([]string, error)

	// RoomRoles returns the roles a user holds in a room, sorted.
	RoomRoles(ctx context.Context, roomID, userID string) ([]string, error)

	// ListWorldGrants returns a world's grants, optionally for one user.
	ListWorldGrants(ctx context.Context, worldID, userID string) ([]WorldGrant, error)

	// ListRoomGrants returns a room's grants, optionally for one user.
	ListRoomGrants(ctx context.Context, roomID, userID string) ([]RoomGrant, error)
}

// ChangeNotifier tells other nodes which cache keys changed. Inside a
// transaction the notice is only delivered if the transaction commits.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, keys ...string) error
}
