// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
)

// GrantRepository implements world.GrantRepository using PostgreSQL.
// Concurrent adds of the same grant leave a single row: the primary key
// absorbs the race and the loser reports no change.
type GrantRepository struct {
	pool store.Querier
}

// NewGrantRepository creates a new PostgreSQL grant repository.
func NewGrantRepository(pool store.Querier) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// AddWorldGrant inserts the grant unless it already exists.
func (r *GrantRepository) AddWorldGrant(ctx context.Context, g world.WorldGrant) (bool, error) {
	result, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO world_grants (world_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, g.WorldID, g.UserID, g.Role)
	if store.IsForeignKeyViolation(err) {
		return false, oops.Code("WORLD_NOT_FOUND").With("id", g.WorldID).Wrap(world.ErrNotFound)
	}
	if err != nil {
		return false, grantFailure("GRANT_ADD_FAILED", g.WorldID, "", g.UserID, g.Role, err)
	}
	return result.RowsAffected() == 1, nil
}

// RemoveWorldGrant deletes the grant if present.
func (r *GrantRepository) RemoveWorldGrant(ctx context.Context, g world.WorldGrant) (bool, error) {
	result, err := store.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM world_grants WHERE world_id = $1 AND user_id = $2 AND role = $3`,
		g.WorldID, g.UserID, g.Role)
	if err != nil {
		return false, grantFailure("GRANT_REMOVE_FAILED", g.WorldID, "", g.UserID, g.Role, err)
	}
	return result.RowsAffected() == 1, nil
}

// AddRoomGrant inserts the grant unless it already exists.
func (r *GrantRepository) AddRoomGrant(ctx context.Context, g world.RoomGrant) (bool, error) {
	result, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO room_grants (room_id, world_id, user_id, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, g.RoomID, g.WorldID, g.UserID, g.Role)
	if store.IsForeignKeyViolation(err) {
		return false, oops.Code("ROOM_NOT_FOUND").With("id", g.RoomID).Wrap(world.ErrNotFound)
	}
	if err != nil {
		return false, grantFailure("GRANT_ADD_FAILED", g.WorldID, g.RoomID, g.UserID, g.Role, err)
	}
	return result.RowsAffected() == 1, nil
}

// RemoveRoomGrant deletes the grant if present.
func (r *GrantRepository) RemoveRoomGrant(ctx context.Context, g world.RoomGrant) (bool, error) {
	result, err := store.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM room_grants WHERE room_id = $1 AND user_id = $2 AND role = $3`,
		g.RoomID, g.UserID, g.Role)
	if err != nil {
		return false, grantFailure("GRANT_REMOVE_FAILED", g.WorldID, g.RoomID, g.UserID, g.Role, err)
	}
	return result.RowsAffected() == 1, nil
}

// WorldRoles returns the roles a user holds on a world, sorted.
func (r *GrantRepository) WorldRoles(ctx context.Context, worldID, userID string) ([]string, error) {
	return r.roles(ctx, `SELECT role FROM world_grants WHERE world_id = $1 AND user_id = $2 ORDER BY role`, worldID, userID)
}

// RoomRoles returns the roles a user holds in a room, sorted.
func (r *GrantRepository) RoomRoles(ctx context.Context, roomID, userID string) ([]string, error) {
	return r.roles(ctx, `SELECT role FROM room_grants WHERE room_id = $1 AND user_id = $2 ORDER BY role`, roomID, userID)
}

func (r *GrantRepository) roles(ctx context.Context, sql, scopeID, userID string) ([]string, error) {
	rows, err := store.Conn(ctx, r.pool).Query(ctx, sql, scopeID, userID)
	if err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").
			With("scope_id", scopeID).
			With("user_id", userID).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.Code("GRANT_SCAN_FAILED").With("scope_id", scopeID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return roles, nil
}

// ListWorldGrants returns a world's grants, optionally for one user.
func (r *GrantRepository) ListWorldGrants(ctx context.Context, worldID, userID string) ([]world.WorldGrant, error) {
	rows, err := store.Conn(ctx, r.pool).Query(ctx, `
		SELECT world_id, user_id, role FROM world_grants
		WHERE world_id = $1 AND ($2 = '' OR user_id = $2)
		ORDER BY user_id, role
	`, worldID, userID)
	if err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("world_id", worldID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	grants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (world.WorldGrant, error) {
		var g world.WorldGrant
		err := row.Scan(&g.WorldID, &g.UserID, &g.Role)
		return g, err
	})
	if err != nil {
		return nil, oops.Code("GRANT_SCAN_FAILED").With("world_id", worldID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return grants, nil
}

// ListRoomGrants returns a room's grants, optionally for one user.
func (r *GrantRepository) ListRoomGrants(ctx context.Context, roomID, userID string) ([]world.RoomGrant, error) {
	rows, err := store.Conn(ctx, r.pool).Query(ctx, `
		SELECT world_id, room_id, user_id, role FROM room_grants
		WHERE room_id = $1 AND ($2 = '' OR user_id = $2)
		ORDER BY user_id, role
	`, roomID, userID)
	if err != nil {
		return nil, oops.Code("GRANT_QUERY_FAILED").With("room_id", roomID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	grants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (world.RoomGrant, error) {
		var g world.RoomGrant
		err := row.Scan(&g.WorldID, &g.RoomID, &g.UserID, &g.Role)
		return g, err
	})
	if err != nil {
		return nil, oops.Code("GRANT_SCAN_FAILED").With("room_id", roomID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return grants, nil
}

func grantFailure(code, worldID, roomID, userID, role string, err error) error {
	b := oops.Code(code).With("world_id", worldID).With("user_id", userID).With("role", role)
	if roomID != "" {
		b = b.With("room_id", roomID)
	}
	return b.Wrap(errors.Join(store.ErrStorageFailure, err))
}

// Compile-time interface check.
var _ world.GrantRepository = (*GrantRepository)(nil)
