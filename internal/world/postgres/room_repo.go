// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
)

// RoomRepository implements world.RoomRepository using PostgreSQL.
type RoomRepository struct {
	pool store.Querier
}

// NewRoomRepository creates a new PostgreSQL room repository.
func NewRoomRepository(pool store.Querier) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id, world_id, name, trait_grants, created_at`

// Get retrieves a room by ID.
func (r *RoomRepository) Get(ctx context.Context, id string) (*world.Room, error) {
	row := store.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROOM_NOT_FOUND").With("id", id).Wrap(world.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROOM_GET_FAILED").With("id", id).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return room, nil
}

// Create persists a new room. The world must exist.
func (r *RoomRepository) Create(ctx context.Context, room *world.Room) error {
	grants, err := json.Marshal(room.TraitGrants)
	if err != nil {
		return oops.Code("ROOM_ENCODE_FAILED").With("id", room.ID).Wrap(err)
	}
	_, err = store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO rooms (id, world_id, name, trait_grants, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, room.ID, room.WorldID, room.Name, grants, room.CreatedAt)
	switch {
	case store.IsUniqueViolation(err):
		return oops.Code("ROOM_EXISTS").With("id", room.ID).Wrap(err)
	case store.IsForeignKeyViolation(err):
		return oops.Code("WORLD_NOT_FOUND").With("id", room.WorldID).Wrap(world.ErrNotFound)
	case err != nil:
		return oops.Code("ROOM_CREATE_FAILED").With("id", room.ID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return nil
}

// ListByWorld returns the rooms of a world ordered by ID.
func (r *RoomRepository) ListByWorld(ctx context.Context, worldID string) ([]*world.Room, error) {
	rows, err := store.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE world_id = $1 ORDER BY id`, worldID)
	if err != nil {
		return nil, oops.Code("ROOM_QUERY_FAILED").With("world_id", worldID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	defer rows.Close()

	rooms := make([]*world.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, oops.Code("ROOM_SCAN_FAILED").Wrap(err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROOM_ITERATE_FAILED").Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return rooms, nil
}

// UpdateTraitGrants replaces the room's trait grants.
func (r *RoomRepository) UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error {
	data, err := json.Marshal(grants)
	if err != nil {
		return oops.Code("ROOM_ENCODE_FAILED").With("id", id).Wrap(err)
	}
	result, err := store.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE rooms SET trait_grants = $2, updated_at = now() WHERE id = $1`, id, data)
	if err != nil {
		return oops.Code("ROOM_UPDATE_FAILED").With("id", id).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ROOM_NOT_FOUND").With("id", id).Wrap(world.ErrNotFound)
	}
	return nil
}

func scanRoom(row pgx.Row) (*world.Room, error) {
	var (
		room   world.Room
		grants []byte
	)
	if err := row.Scan(&room.ID, &room.WorldID, &room.Name, &grants, &room.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(grants, &room.TraitGrants); err != nil {
		return nil, oops.Code("ROOM_PARSE_FAILED").With("id", room.ID).Wrap(err)
	}
	return &room, nil
}

// Compile-time interface check.
var _ world.RoomRepository = (*RoomRepository)(nil)
