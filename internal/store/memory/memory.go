// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory is an in-process backend for development and tests. One
// Store implements every world repository, the audit repository, the
// transactor and the change notifier. Transactions serialize on a single
// lock and restore a snapshot when they fail.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/audit"
	"github.com/holomush/worldgate/internal/world"
)

type userKey struct{ world, user string }

type worldGrantKey struct{ world, user, role string }

type roomGrantKey struct{ room, user, role string }

type state struct {
	worlds      map[string]*world.World
	rooms       map[string]*world.Room
	users       map[userKey]*world.User
	worldGrants map[worldGrantKey]struct{}
	roomGrants  map[roomGrantKey]world.RoomGrant
	audit       []audit.Entry
}

func (s state) clone() state {
	return state{
		worlds:      maps.Clone(s.worlds),
		rooms:       maps.Clone(s.rooms),
		users:       maps.Clone(s.users),
		worldGrants: maps.Clone(s.worldGrants),
		roomGrants:  maps.Clone(s.roomGrants),
		audit:       s.audit[:len(s.audit):len(s.audit)],
	}
}

// Store holds all records in memory. Stored records are never mutated in
// place, so snapshots only copy the maps.
type Store struct {
	mu          sync.Mutex
	st          state
	pending     []string
	subscribers []func(keys []string)
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: state{
		worlds:      make(map[string]*world.World),
		rooms:       make(map[string]*world.Room),
		users:       make(map[userKey]*world.User),
		worldGrants: make(map[worldGrantKey]struct{}),
		roomGrants:  make(map[roomGrantKey]world.RoomGrant),
	}}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	held, _ := ctx.Value(txKey{}).(*Store)
	return held == s
}

// lock acquires the store lock unless ctx belongs to a running transaction,
// which already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTransaction runs fn with exclusive access to the store. Changes made by
// fn are discarded if it returns an error, and change notices are delivered
// only after it succeeds.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	keys, subs, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	deliver(subs, keys)
	return nil
}

func (s *Store) commit(ctx context.Context, fn func(ctx context.Context) error) ([]string, []func([]string), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	s.pending = nil
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
		s.pending = nil
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return nil, nil, err
	}
	committed = true
	return s.pending, slices.Clone(s.subscribers), nil
}

// Subscribe registers fn to receive changed keys after each commit.
func (s *Store) Subscribe(fn func(keys []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// NotifyChanged queues keys for delivery when the surrounding transaction
// commits, or delivers them immediately outside a transaction.
func (s *Store) NotifyChanged(ctx context.Context, keys ...string) error {
	if s.inTx(ctx) {
		s.pending = append(s.pending, keys...)
		return nil
	}
	s.mu.Lock()
	subs := slices.Clone(s.subscribers)
	s.mu.Unlock()
	deliver(subs, keys)
	return nil
}

func deliver(subs []func([]string), keys []string) {
	if len(keys) == 0 {
		return
	}
	for _, fn := range subs {
		fn(slices.Clone(keys))
	}
}

// Worlds returns the world repository view of the store.
func (s *Store) Worlds() world.WorldRepository { return worldRepo{s} }

// Rooms returns the room repository view of the store.
func (s *Store) Rooms() world.RoomRepository { return roomRepo{s} }

// Users returns the user repository view of the store.
func (s *Store) Users() world.UserRepository { return userRepo{s} }

// Grants returns the grant repository view of the store.
func (s *Store) Grants() world.GrantRepository { return grantRepo{s} }

// Audit returns the audit repository view of the store.
func (s *Store) Audit() audit.Repository { return auditRepo{s} }

func notFound(code string, kv ...any) error {
	b := oops.Code(code)
	for i := 0; i+1 < len(kv); i += 2 {
		b = b.With(kv[i].(string), kv[i+1])
	}
	return b.Wrap(world.ErrNotFound)
}

type worldRepo struct{ s *Store }

func (r worldRepo) Get(ctx context.Context, id string) (*world.World, error) {
	defer r.s.lock(ctx)()
	w, ok := r.s.st.worlds[id]
	if !ok {
		return nil, notFound("WORLD_NOT_FOUND", "id", id)
	}
	return copyWorld(w), nil
}

func (r worldRepo) Create(ctx context.Context, w *world.World) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.worlds[w.ID]; ok {
		return oops.Code("WORLD_EXISTS").With("id", w.ID).Errorf("world already exists")
	}
	r.s.st.worlds[w.ID] = copyWorld(w)
	return nil
}

func (r worldRepo) List(ctx context.Context) ([]*world.World, error) {
	defer r.s.lock(ctx)()
	out := make([]*world.World, 0, len(r.s.st.worlds))
	for _, id := range slices.Sorted(maps.Keys(r.s.st.worlds)) {
		out = append(out, copyWorld(r.s.st.worlds[id]))
	}
	return out, nil
}

func (r worldRepo) UpdateRoles(ctx context.Context, id string, roles access.RoleMap) error {
	defer r.s.lock(ctx)()
	w, ok := r.s.st.worlds[id]
	if !ok {
		return notFound("WORLD_NOT_FOUND", "id", id)
	}
	next := copyWorld(w)
	next.Roles = roles
	next.VocabularyVersion = roles.Version().String()
	r.s.st.worlds[id] = next
	return nil
}

func (r worldRepo) UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error {
	defer r.s.lock(ctx)()
	w, ok := r.s.st.worlds[id]
	if !ok {
		return notFound("WORLD_NOT_FOUND", "id", id)
	}
	next := copyWorld(w)
	next.TraitGrants = grants.Clone()
	r.s.st.worlds[id] = next
	return nil
}

func copyWorld(w *world.World) *world.World {
	c := *w
	c.TraitGrants = w.TraitGrants.Clone()
	return &c
}

type roomRepo struct{ s *Store }

func (r roomRepo) Get(ctx context.Context, id string) (*world.Room, error) {
	defer r.s.lock(ctx)()
	room, ok := r.s.st.rooms[id]
	if !ok {
		return nil, notFound("ROOM_NOT_FOUND", "id", id)
	}
	return copyRoom(room), nil
}

func (r roomRepo) Create(ctx context.Context, room *world.Room) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.worlds[room.WorldID]; !ok {
		return notFound("WORLD_NOT_FOUND", "id", room.WorldID)
	}
	if _, ok := r.s.st.rooms[room.ID]; ok {
		return oops.Code("ROOM_EXISTS").With("id", room.ID).Errorf("room already exists")
	}
	r.s.st.rooms[room.ID] = copyRoom(room)
	return nil
}

func (r roomRepo) ListByWorld(ctx context.Context, worldID string) ([]*world.Room, error) {
	defer r.s.lock(ctx)()
	out := make([]*world.Room, 0)
	for _, room := range r.s.st.rooms {
		if room.WorldID == worldID {
			out = append(out, copyRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r roomRepo) UpdateTraitGrants(ctx context.Context, id string, grants access.TraitGrants) error {
	defer r.s.lock(ctx)()
	room, ok := r.s.st.rooms[id]
	if !ok {
		return notFound("ROOM_NOT_FOUND", "id", id)
	}
	next := copyRoom(room)
	next.TraitGrants = grants.Clone()
	r.s.st.rooms[id] = next
	return nil
}

func copyRoom(r *world.Room) *world.Room {
	c := *r
	c.TraitGrants = r.TraitGrants.Clone()
	return &c
}

type userRepo struct{ s *Store }

func (r userRepo) Get(ctx context.Context, worldID, userID string) (*world.User, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[userKey{worldID, userID}]
	if !ok {
		return nil, notFound("USER_NOT_FOUND", "world_id", worldID, "user_id", userID)
	}
	return copyUser(u), nil
}

// GetForUpdate is Get: a transaction already holds the whole store.
func (r userRepo) GetForUpdate(ctx context.Context, worldID, userID string) (*world.User, error) {
	return r.Get(ctx, worldID, userID)
}

func (r userRepo) Upsert(ctx context.Context, u *world.User) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.worlds[u.WorldID]; !ok {
		return notFound("WORLD_NOT_FOUND", "id", u.WorldID)
	}
	key := userKey{u.WorldID, u.ID}
	next := copyUser(u)
	if next.Type == "" {
		next.Type = access.UserPerson
	}
	if existing, ok := r.s.st.users[key]; ok {
		next.Moderation = existing.Moderation
		next.Deleted = existing.Deleted
		next.CreatedAt = existing.CreatedAt
	} else {
		next.Moderation = access.ModerationNone
		next.Deleted = false
		if next.CreatedAt.IsZero() {
			next.CreatedAt = time.Now().UTC()
		}
	}
	r.s.st.users[key] = next
	return nil
}

func (r userRepo) SetModeration(ctx context.Context, worldID, userID string, st access.ModerationState) error {
	return r.modify(ctx, worldID, userID, func(u *world.User) { u.Moderation = st })
}

func (r userRepo) MarkDeleted(ctx context.Context, worldID, userID string) error {
	return r.modify(ctx, worldID, userID, func(u *world.User) { u.Deleted = true })
}

func (r userRepo) modify(ctx context.Context, worldID, userID string, fn func(*world.User)) error {
	defer r.s.lock(ctx)()
	key := userKey{worldID, userID}
	u, ok := r.s.st.users[key]
	if !ok {
		return notFound("USER_NOT_FOUND", "world_id", worldID, "user_id", userID)
	}
	next := copyUser(u)
	fn(next)
	r.s.st.users[key] = next
	return nil
}

func (r userRepo) ModerationState(ctx context.Context, worldID, userID string) (access.ModerationState, error) {
	defer r.s.lock(ctx)()
	u, ok := r.s.st.users[userKey{worldID, userID}]
	switch {
	case !ok:
		return access.ModerationNone, nil
	case u.Deleted:
		return access.ModerationBanned, nil
	}
	return u.Moderation, nil
}

func copyUser(u *world.User) *world.User {
	c := *u
	c.Traits = slices.Clone(u.Traits)
	return &c
}

type grantRepo struct{ s *Store }

func (r grantRepo) AddWorldGrant(ctx context.Context, g world.WorldGrant) (bool, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.worlds[g.WorldID]; !ok {
		return false, notFound("WORLD_NOT_FOUND", "id", g.WorldID)
	}
	key := worldGrantKey{g.WorldID, g.UserID, g.Role}
	if _, ok := r.s.st.worldGrants[key]; ok {
		return false, nil
	}
	r.s.st.worldGrants[key] = struct{}{}
	return true, nil
}

func (r grantRepo) RemoveWorldGrant(ctx context.Context, g world.WorldGrant) (bool, error) {
	defer r.s.lock(ctx)()
	key := worldGrantKey{g.WorldID, g.UserID, g.Role}
	if _, ok := r.s.st.worldGrants[key]; !ok {
		return false, nil
	}
	delete(r.s.st.worldGrants, key)
	return true, nil
}

func (r grantRepo) AddRoomGrant(ctx context.Context, g world.RoomGrant) (bool, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.rooms[g.RoomID]; !ok {
		return false, notFound("ROOM_NOT_FOUND", "id", g.RoomID)
	}
	key := roomGrantKey{g.RoomID, g.UserID, g.Role}
	if _, ok := r.s.st.roomGrants[key]; ok {
		return false, nil
	}
	r.s.st.roomGrants[key] = g
	return true, nil
}

func (r grantRepo) RemoveRoomGrant(ctx context.Context, g world.RoomGrant) (bool, error) {
	defer r.s.lock(ctx)()
	key := roomGrantKey{g.RoomID, g.UserID, g.Role}
	if _, ok := r.s.st.roomGrants[key]; !ok {
		return false, nil
	}
	delete(r.s.st.roomGrants, key)
	return true, nil
}

func (r grantRepo) WorldRoles(ctx context.Context, worldID, userID string) ([]string, error) {
	defer r.s.lock(ctx)()
	var roles []string
	for k := range r.s.st.worldGrants {
		if k.world == worldID && k.user == userID {
			roles = append(roles, k.role)
		}
	}
	slices.Sort(roles)
	return roles, nil
}

func (r grantRepo) RoomRoles(ctx context.Context, roomID, userID string) ([]string, error) {
	defer r.s.lock(ctx)()
	var roles []string
	for k := range r.s.st.roomGrants {
		if k.room == roomID && k.user == userID {
			roles = append(roles, k.role)
		}
	}
	slices.Sort(roles)
	return roles, nil
}

func (r grantRepo) ListWorldGrants(ctx context.Context, worldID, userID string) ([]world.WorldGrant, error) {
	defer r.s.lock(ctx)()
	out := make([]world.WorldGrant, 0)
	for k := range r.s.st.worldGrants {
		if k.world == worldID && (userID == "" || k.user == userID) {
			out = append(out, world.WorldGrant{WorldID: k.world, UserID: k.user, Role: k.role})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (r grantRepo) ListRoomGrants(ctx context.Context, roomID, userID string) ([]world.RoomGrant, error) {
	defer r.s.lock(ctx)()
	out := make([]world.RoomGrant, 0)
	for k, g := range r.s.st.roomGrants {
		if k.room == roomID && (userID == "" || k.user == userID) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, e audit.Entry) error {
	defer r.s.lock(ctx)()
	r.s.st.audit = append(r.s.st.audit, e)
	return nil
}

func (r auditRepo) Query(ctx context.Context, f audit.Filter, after ulid.ULID, limit int) ([]audit.Entry, error) {
	defer r.s.lock(ctx)()
	var out []audit.Entry
	for _, e := range r.s.st.audit {
		if e.ID.Compare(after) <= 0 || !matches(f, e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(f audit.Filter, e audit.Entry) bool {
	switch {
	case f.WorldID != "" && e.WorldID != f.WorldID:
		return false
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.ActionPrefix != "" && !strings.HasPrefix(string(e.Action), f.ActionPrefix):
		return false
	case f.ObjectID != "" && e.Payload.Object != f.ObjectID:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !e.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Compile-time interface checks.
var (
	_ world.Transactor     = (*Store)(nil)
	_ world.ChangeNotifier = (*Store)(nil)
)
