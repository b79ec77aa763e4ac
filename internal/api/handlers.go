// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/world"
)

// maxAuditLimit caps the entries returned by one audit request.
const maxAuditLimit = 1000

type checkRequest struct {
	User       string `json:"user" validate:"required,max=255"`
	Permission string `json:"permission" validate:"required"`
	Room       string `json:"room,omitempty" validate:"omitempty,max=255"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

type permissionsRequest struct {
	User string `json:"user" validate:"required,max=255"`
	Room string `json:"room,omitempty" validate:"omitempty,max=255"`
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

type sessionRequest struct {
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	User        string   `json:"user"`
	Type        string   `json:"type"`
	Traits      []string `json:"traits"`
	Permissions []string `json:"permissions"`
}

type grantRequest struct {
	Actor string `json:"actor" validate:"required,max=255"`
	User  string `json:"user" validate:"required,max=255"`
	Role  string `json:"role" validate:"required,max=255"`
}

type actorRequest struct {
	Actor string `json:"actor" validate:"required,max=255"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

type grantResponse struct {
	User string `json:"user"`
	Role string `json:"role"`
	Room string `json:"room,omitempty"`
}

type moderationResponse struct {
	User  string `json:"user"`
	State string `json:"state"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID := chi.URLParam(r, "world")
	perm, err := access.ParsePermission(req.Permission)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalid, Fields: map[string]string{"permission": "unknown"}})
		return
	}
	subject, err := h.subject(r.Context(), worldID, req.User)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	allowed, err := h.resolver.HasPermission(r.Context(), subject, worldID, perm, req.Room)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID := chi.URLParam(r, "world")
	subject, err := h.subject(r.Context(), worldID, req.User)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	set, err := h.resolver.AllPermissions(r.Context(), subject, worldID, req.Room)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{Permissions: set.Strings()})
}

// session accepts an identity token, refreshes the stored user from it and
// returns the user's world permissions.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID := chi.URLParam(r, "world")
	dec, ok := h.decoders[worldID]
	if !ok {
		writeError(w, http.StatusUnauthorized, msgNotAuthorized)
		return
	}
	sess, err := dec.Decode(req.Token)
	if err != nil {
		h.logger.DebugContext(r.Context(), "identity token rejected", "world_id", worldID, "error", err)
		h.fail(w, r, err)
		return
	}

	u := &world.User{ID: sess.UserID, WorldID: worldID, Type: sess.Type, Traits: sess.Traits}
	if err := u.Validate(); err != nil {
		h.fail(w, r, world.Invalid(err))
		return
	}
	if err := h.users.Upsert(r.Context(), u); err != nil {
		h.fail(w, r, oops.In("api").With("world_id", worldID).Wrap(err))
		return
	}
	subject, err := h.subject(r.Context(), worldID, sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	set, err := h.resolver.AllPermissions(r.Context(), subject, worldID, "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:        sess.UserID,
		Type:        string(sess.Type),
		Traits:      sess.Traits,
		Permissions: set.Strings(),
	})
}

func (h *Handler) listWorldGrants(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "world")
	actor, err := h.subject(r.Context(), worldID, r.URL.Query().Get("requester"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	grants, err := h.grants.ListWorldGrants(r.Context(), worldID, r.URL.Query().Get("user"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{User: g.UserID, Role: g.Role})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addWorldGrant(w http.ResponseWriter, r *http.Request) {
	h.worldGrant(w, r, h.grants.AddWorldGrant)
}

func (h *Handler) removeWorldGrant(w http.ResponseWriter, r *http.Request) {
	h.worldGrant(w, r, h.grants.RemoveWorldGrant)
}

type grantFunc func(ctx context.Context, scopeID, userID, role string, actor access.Subject) (bool, error)

func (h *Handler) worldGrant(w http.ResponseWriter, r *http.Request, fn grantFunc) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID := chi.URLParam(r, "world")
	actor, err := h.subject(r.Context(), worldID, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	changed, err := fn(r.Context(), worldID, req.User, req.Role, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) listRoomGrants(w http.ResponseWriter, r *http.Request) {
	worldID, roomID := chi.URLParam(r, "world"), chi.URLParam(r, "room")
	if err := h.roomInWorld(r.Context(), worldID, roomID); err != nil {
		h.fail(w, r, err)
		return
	}
	actor, err := h.subject(r.Context(), worldID, r.URL.Query().Get("requester"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	grants, err := h.grants.ListRoomGrants(r.Context(), roomID, r.URL.Query().Get("user"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{User: g.UserID, Role: g.Role, Room: g.RoomID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addRoomGrant(w http.ResponseWriter, r *http.Request) {
	h.roomGrant(w, r, h.grants.AddRoomGrant)
}

func (h *Handler) removeRoomGrant(w http.ResponseWriter, r *http.Request) {
	h.roomGrant(w, r, h.grants.RemoveRoomGrant)
}

func (h *Handler) roomGrant(w http.ResponseWriter, r *http.Request, fn grantFunc) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID, roomID := chi.URLParam(r, "world"), chi.URLParam(r, "room")
	if err := h.roomInWorld(r.Context(), worldID, roomID); err != nil {
		h.fail(w, r, err)
		return
	}
	actor, err := h.subject(r.Context(), worldID, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	changed, err := fn(r.Context(), roomID, req.User, req.Role, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) moderationState(w http.ResponseWriter, r *http.Request) {
	worldID, userID := chi.URLParam(r, "world"), chi.URLParam(r, "user")
	if err := h.require(r, worldID, r.URL.Query().Get("requester"), access.WorldUsersList); err != nil {
		h.fail(w, r, err)
		return
	}
	state, err := h.moderation.State(r.Context(), worldID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderationResponse{User: userID, State: state.String()})
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.moderation.SetBanned)
}

func (h *Handler) silence(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.moderation.SetSilenced)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.moderation.ClearModeration)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, worldID, targetID string, actor access.Subject) (bool, error)) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID, userID := chi.URLParam(r, "world"), chi.URLParam(r, "user")
	actor, err := h.subject(r.Context(), worldID, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	changed, err := fn(r.Context(), worldID, userID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	worldID, userID := chi.URLParam(r, "world"), chi.URLParam(r, "user")
	actor, err := h.subject(r.Context(), worldID, req.Actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.moderation.DeleteUser(r.Context(), worldID, userID, actor); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listAudit returns audit entries of the world. The requester needs
// world:update.
func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "world")
	q := r.URL.Query()
	if err := h.require(r, worldID, q.Get("requester"), access.WorldUpdate); err != nil {
		h.fail(w, r, err)
		return
	}

	limit := 100
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalid, Fields: map[string]string{"limit": "invalid"}})
			return
		}
		limit = min(parsed, maxAuditLimit)
	}
	entries, err := h.audit.Collect(r.Context(), audit.Filter{
		WorldID:      worldID,
		ActorID:      q.Get("actor"),
		ActionPrefix: q.Get("action"),
		ObjectID:     q.Get("object"),
		Limit:        limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) deleteAudit(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		id = ulid.ULID{}
	}
	h.fail(w, r, h.audit.Delete(r.Context(), id))
}

// subject loads the access subject for userID in worldID.
func (h *Handler) subject(ctx context.Context, worldID, userID string) (access.Subject, error) {
	if err := world.ValidateIDs("world_id", worldID, "user_id", userID); err != nil {
		return access.Subject{}, world.Invalid(err)
	}
	return world.LoadSubject(ctx, h.users, worldID, userID)
}

func (h *Handler) require(r *http.Request, worldID, userID string, perm access.Permission) error {
	subject, err := h.subject(r.Context(), worldID, userID)
	if err != nil {
		return err
	}
	req := access.Request{Subject: subject, WorldID: worldID}
	return access.Require(r.Context(), h.resolver, req, access.Has(perm))
}

// roomInWorld reports ErrNotFound for rooms that belong to another world.
func (h *Handler) roomInWorld(ctx context.Context, worldID, roomID string) error {
	room, err := h.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.WorldID != worldID {
		return oops.In("api").
			Code("ROOM_NOT_FOUND").
			With("world_id", worldID).
			With("room_id", roomID).
			Wrap(world.ErrNotFound)
	}
	return nil
}
