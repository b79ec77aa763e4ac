// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the world repositories on PostgreSQL.
// Every method joins the transaction carried by its context, if any.
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

// WorldRepository implements world.WorldRepository using PostgreSQL.
type WorldRepository struct {
	pool store.Querier
}

// NewWorldRepository creates a new PostgreSQL world repository.
func NewWorldRepository(pool store.Querier) *WorldRepository {
	return &WorldRepository{pool: pool}
}

const worldColumns = `id, name, roles, trait_grants, vocabulary_version, created_at`

// Get retrieves a world by ID.
func (r *WorldRepository) Get(ctx context.Context, id string) (*world.World, error) {
	row := store.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+worldColumns+` FROM worlds WHERE id = $1`, id)
	w, err := scanWorld(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("WORLD_NOT_FOUND").With("id", id).Wrap(world.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("WORLD_GET_FAILED").With("id", id).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return w, nil
}

// Create persists a new world.
// Callers must validate the world before calling this method.
func (r *WorldRepository) Create(ctx context.Context, w *world.World) error {
	roles, err := json.Marshal(w.Roles)
	if err != nil {
		return oops.Code("WORLD_ENCODE_FAILED").With("id", w.ID).Wrap(err)
	}
	grants, err := json.Marshal(w.TraitGrants)
	if err != nil {
		return oops.Code("WORLD_ENCODE_FAILED").With("id", w.ID).Wrap(err)
	}
	_, err = store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO worlds (id, name, roles, trait_grants, vocabulary_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.Name, roles, grants, w.VocabularyVersion, w.CreatedAt)
	if store.IsUniqueViolation(err) {
		return oops.Code("WORLD_EXISTS").With("id", w.ID).Wrap(err)
	}
	if err != nil {
		return oops.Code("WORLD_CREATE_FAILED").With("id", w.ID).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return nil
}

// List returns every world ordered by ID.
func (r *WorldRepository) List(ctx context.Context) ([]*world.World, error) {
	rows, err := store.Conn(ctx, r.pool).Query(ctx, `SELECT `+worldColumns+` FROM worlds ORDER BY id`)
	if err != nil {
		return nil, oops.Code("WORLD_QUERY_FAILED").Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	defer rows.Close()

	worlds := make([]*world.World, 0)
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, oops.Code("WORLD_SCAN_FAILED").Wrap(err)
		}
		worlds = append(worlds, w)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("WORLD_ITERATE_FAILED").Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return worlds, nil
}

// UpdateRoles replaces the world's role map and records the vocabulary
// version the map was built at.
func (r *WorldRepository) UpdateRoles(ctx context.Context, id string, roles access.RoleMap) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return oops.Code("WORLD_ENCODE_FAILED").With("id", id).Wrap(err)
	}
	return r.update(ctx, id, `
		UPDATE worlds SET roles = $2, vocabulary_version = $3, updated_at = now() WHERE id = $1
	`, data, roles.Version().String())
}

// UpdateTraitGrants replaces the world's trait grants.
func (r *WorldRepository) UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error {
	data, err := json.Marshal(grants)
	if err != nil {
		return oops.Code("WORLD_ENCODE_FAILED").With("id", id).Wrap(err)
	}
	return r.update(ctx, id, `
		UPDATE worlds SET trait_grants = $2, updated_at = now() WHERE id = $1
	`, data)
}

func (r *WorldRepository) update(ctx context.Context, id, sql string, args ...any) error {
	result, err := store.Conn(ctx, r.pool).Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return oops.Code("WORLD_UPDATE_FAILED").With("id", id).Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("WORLD_NOT_FOUND").With("id", id).Wrap(world.ErrNotFound)
	}
	return nil
}

func scanWorld(row pgx.Row) (*world.World, error) {
	var (
		w             world.World
		roles, grants []byte
	)
	if err := row.Scan(&w.ID, &w.Name, &roles, &grants, &w.VocabularyVersion, &w.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &w.Roles); err != nil {
		return nil, oops.Code("WORLD_PARSE_FAILED").With("id", w.ID).With("field", "roles").Wrap(err)
	}
	if err := w.PinVocabulary(); err != nil {
		return nil, oops.Code("WORLD_PARSE_FAILED").With("id", w.ID).With("field", "vocabulary_version").Wrap(err)
	}
	if err := json.Unmarshal(grants, &w.TraitGrants); err != nil {
		return nil, oops.Code("WORLD_PARSE_FAILED").With("id", w.ID).With("field", "trait_grants").Wrap(err)
	}
	return &w, nil
}

// Compile-time interface check.
var _ world.WorldRepository = (*WorldRepository)(nil)
