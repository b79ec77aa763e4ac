// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres stores audit entries in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/store"
)

// Repository implements audit.Repository. It only ever inserts and selects;
// the audit_log table additionally rejects UPDATE and DELETE with a trigger.
type Repository struct {
	pool store.Querier
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(pool store.Querier) *Repository {
	return &Repository{pool: pool}
}

// Append inserts e in the transaction carried by ctx, if any.
func (r *Repository) Append(ctx context.Context, e audit.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").With("entry_id", e.ID.String()).Wrap(err)
	}
	_, err = store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (id, world_id, actor_id, action, object_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID.String(), e.WorldID, nullable(e.ActorID), string(e.Action), nullable(e.Payload.Object), payload, e.Timestamp)
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").
			With("entry_id", e.ID.String()).
			With("action", e.Action).
			Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	return nil
}

// Query returns up to limit entries after the given ID matching f.
func (r *Repository) Query(ctx context.Context, f audit.Filter, after ulid.ULID, limit int) ([]audit.Entry, error) {
	sql, args := buildQuery(f, after, limit)
	rows, err := store.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").Wrap(errors.Join(store.ErrStorageFailure, err))
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, oops.Code("AUDIT_SCAN_FAILED").Wrap(err)
	}
	return entries, nil
}

func buildQuery(f audit.Filter, after ulid.ULID, limit int) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if after != (ulid.ULID{}) {
		add("id > ?", after.String())
	}
	if f.WorldID != "" {
		add("world_id = ?", f.WorldID)
	}
	if f.ActorID != "" {
		add("actor_id = ?", f.ActorID)
	}
	if f.ActionPrefix != "" {
		add("starts_with(action, ?)", f.ActionPrefix)
	}
	if f.ObjectID != "" {
		add("object_id = ?", f.ObjectID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < ?", f.Until)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, world_id, actor_id, action, payload, created_at FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	b.WriteString(" ORDER BY id LIMIT $" + strconv.Itoa(len(args)))
	return b.String(), args
}

func scanEntry(row pgx.CollectableRow) (audit.Entry, error) {
	var (
		e       audit.Entry
		id      string
		actor   *string
		action  string
		payload []byte
	)
	if err := row.Scan(&id, &e.WorldID, &actor, &action, &payload, &e.Timestamp); err != nil {
		return audit.Entry{}, err
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return audit.Entry{}, oops.Code("AUDIT_PARSE_FAILED").With("entry_id", id).Wrap(err)
	}
	e.ID = parsed
	e.Action = audit.Action(action)
	if actor != nil {
		e.ActorID = *actor
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return audit.Entry{}, oops.Code("AUDIT_PARSE_FAILED").With("entry_id", id).Wrap(err)
	}
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ audit.Repository = (*Repository)(nil)
