// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
)

// UserRepository implements world.UserRepository using PostgreSQL.
type UserRepository struct {
	pool store.Querier
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(pool store.Querier) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, world_id, user_type, traits, moderation, deleted, created_at`

// Get retrieves a user of a world.
func (r *UserRepository) Get(ctx context.Context, worldID, userID string) (*world.User, error) {
	return r.get(ctx, worldID, userID, `SELECT `+userColumns+` FROM users WHERE world_id = $1 AND id = $2`)
}

// GetForUpdate retrieves a user and locks its row until the transaction in
// ctx ends. Without a transaction the lock is released immediately.
func (r *UserRepository) GetForUpdate(ctx context.Context, worldID, userID string) (*world.User, error) {
	return r.get(ctx, worldID, userID, `SELECT `+userColumns+` FROM users WHERE world_id = $1 AND id = $2 FOR UPDATE`)
}

func (r *UserRepository) get(ctx context.Context, worldID, userID, sql string) (*world.User, error) {
	row := store.Conn(ctx, r.pool).QueryRow(ctx, sql, worldID, userID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("world_id", worldID).
			With("user_id", userID).
			Wrap(world.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("world_id", worldID).
			With("user_id", userID).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return u, nil
}

// Upsert creates the user or refreshes its type and traits.
func (r *UserRepository) Upsert(ctx context.Context, u *world.User) error {
	traits := u.Traits
	if traits == nil {
		traits = []string{}
	}
	userType := u.Type
	if userType == "" {
		userType = access.UserPerson
	}
	_, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (world_id, id, user_type, traits, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (world_id, id) DO UPDATE
		SET user_type = EXCLUDED.user_type, traits = EXCLUDED.traits, updated_at = now()
	`, u.WorldID, u.ID, string(userType), traits, u.CreatedAt)
	if store.IsForeignKeyViolation(err) {
		return oops.Code("WORLD_NOT_FOUND").With("id", u.WorldID).Wrap(world.ErrNotFound)
	}
	if err != nil {
		return oops.Code("USER_UPSERT_FAILED").
			With("world_id", u.WorldID).
			With("user_id", u.ID).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return nil
}

// SetModeration stores a new moderation state.
func (r *UserRepository) SetModeration(ctx context.Context, worldID, userID string, state access.ModerationState) error {
	return r.update(ctx, worldID, userID,
		`UPDATE users SET moderation = $3, updated_at = now() WHERE world_id = $1 AND id = $2`, string(state))
}

// MarkDeleted flags the user as deleted.
func (r *UserRepository) MarkDeleted(ctx context.Context, worldID, userID string) error {
	return r.update(ctx, worldID, userID,
		`UPDATE users SET deleted = true, updated_at = now() WHERE world_id = $1 AND id = $2`)
}

func (r *UserRepository) update(ctx context.Context, worldID, userID, sql string, args ...any) error {
	result, err := store.Conn(ctx, r.pool).Exec(ctx, sql, append([]any{worldID, userID}, args...)...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("world_id", worldID).
			With("user_id", userID).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("world_id", worldID).
			With("user_id", userID).
			Wrap(world.ErrNotFound)
	}
	return nil
}

// ModerationState returns the stored state. Unknown users are
// ModerationNone and deleted users are ModerationBanned.
func (r *UserRepository) ModerationState(ctx context.Context, worldID, userID string) (access.ModerationState, error) {
	var (
		raw     string
		deleted bool
	)
	err := store.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT moderation, deleted FROM users WHERE world_id = $1 AND id = $2`, worldID, userID).
		Scan(&raw, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return access.ModerationNone, nil
	}
	if err != nil {
		return access.ModerationNone, oops.Code("USER_GET_FAILED").
			With("world_id", worldID).
			With("user_id", userID).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	if deleted {
		return access.ModerationBanned, nil
	}
	state, err := access.ParseModerationState(raw)
	if err != nil {
		return access.ModerationNone, oops.Code("USER_PARSE_FAILED").With("user_id", userID).Wrap(err)
	}
	return state, nil
}

func scanUser(row pgx.Row) (*world.User, error) {
	var (
		u                world.User
		userType, modRaw string
	)
	if err := row.Scan(&u.ID, &u.WorldID, &userType, &u.Traits, &modRaw, &u.Deleted, &u.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.Type, err = access.ParseUserType(userType); err != nil {
		return nil, oops.Code("USER_PARSE_FAILED").With("field", "user_type").With("value", userType).Wrap(err)
	}
	if u.Moderation, err = access.ParseModerationState(modRaw); err != nil {
		return nil, oops.Code("USER_PARSE_FAILED").With("field", "moderation").With("value", modRaw).Wrap(err)
	}
	return &u, nil
}

// Compile-time interface check.
var _ world.UserRepository = (*UserRepository)(nil)
