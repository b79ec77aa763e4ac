// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// SystemRolePrefix marks roles reserved by the engine.
const SystemRolePrefix = "__"

// Reserved system roles.
const (
	RoleKiosk     = "__kiosk"
	RoleAnonymous = "__anonymous"
)

// systemRoles apply when a world's role map does not define the role itself.
var systemRoles = map[string][]Permission{
	RoleKiosk: {
		WorldView,
		RoomView,
		RoomChatRead,
		RoomQuestionRead,
		RoomPollRead,
	},
	RoleAnonymous: {
		RoomView,
		RoomChatRead,
		RoomQuestionRead,
		RoomQuestionAsk,
		RoomQuestionVote,
		RoomPollRead,
		RoomPollVote,
	},
}

// Permission groups composed into the default roles.
var (
	attendeePowers = []Permission{
		WorldView,
		WorldExhibitionContact,
		WorldChatDirect,
	}
	viewerPowers = compose(attendeePowers, []Permission{
		RoomView,
		RoomChatRead,
	})
	participantPowers = compose(viewerPowers, []Permission{
		RoomChatJoin,
		RoomChatSend,
		RoomQuestionRead,
		RoomQuestionAsk,
		RoomQuestionVote,
		RoomPollRead,
		RoomPollVote,
		RoomRouletteJoin,
		RoomBBBJoin,
		RoomJanusJoin,
		RoomZoomJoin,
	})
	roomCreatorPowers = []Permission{WorldRoomsCreateChat}
	roomOwnerPowers   = compose(participantPowers, []Permission{
		RoomInvite,
		RoomDelete,
	})
	speakerPowers = compose(participantPowers, []Permission{
		RoomBBBModerate,
		RoomJanusModerate,
		RoomPollEarlyResults,
	})
	moderatorPowers = compose(speakerPowers, []Permission{
		RoomViewers,
		RoomChatModerate,
		RoomAnnounce,
		RoomBBBRecordings,
		RoomQuestionModerate,
		RoomPollManage,
		WorldAnnounce,
	})
	adminPowers = compose(moderatorPowers, roomCreatorPowers, []Permission{
		WorldUpdate,
		RoomDelete,
		RoomUpdate,
		WorldRoomsCreateBBB,
		WorldRoomsCreateStage,
		WorldRoomsCreateExhibition,
		WorldRoomsCreatePoster,
		WorldUsersList,
		WorldUsersManage,
		WorldGraphs,
		WorldConnectionsUnlimited,
	})
	apiUserPowers      = compose(adminPowers, []Permission{WorldAPI, WorldSecrets})
	scheduleUserPowers = []Permission{WorldAPI}
)

// DefaultRoles returns the role definitions a new world starts with.
// Roles compose permission groups explicitly (no inheritance).
func DefaultRoles() map[string][]string {
	roles := map[string][]Permission{
		"attendee":     attendeePowers,
		"viewer":       viewerPowers,
		"participant":  participantPowers,
		"room_creator": roomCreatorPowers,
		"room_owner":   roomOwnerPowers,
		"speaker":      speakerPowers,
		"moderator":    moderatorPowers,
		"admin":        adminPowers,
		"apiuser":      apiUserPowers,
		"scheduleuser": scheduleUserPowers,
	}
	out := make(map[string][]string, len(roles))
	for role, perms := range roles {
		out[role] = toStrings(perms)
	}
	return out
}

// DefaultRoleMap returns the compiled default roles.
//
// Panics if the default roles reference unknown permissions (programming error).
func DefaultRoleMap() RoleMap {
	m, err := NewRoleMap(DefaultRoles())
	if err != nil {
		panic("invalid permission in DefaultRoles: " + err.Error())
	}
	return m
}

// SystemRoles returns the built-in system role definitions.
func SystemRoles() map[string]PermissionSet {
	out := make(map[string]PermissionSet, len(systemRoles))
	for role, perms := range systemRoles {
		out[role] = NewPermissionSet(perms...)
	}
	return out
}

// IsSystemRole reports whether role is reserved by the engine.
func IsSystemRole(role string) bool {
	return strings.HasPrefix(role, SystemRolePrefix)
}

// RoleMap is a validated, immutable mapping from role name to permissions.
//
// Entries may be written as glob patterns ("room:chat.*") using ':' as the
// separator. Patterns are expanded against the vocabulary version the map
// is built at, so lookups never touch a pattern and a map pinned to an older
// version does not gain tokens added later. The original entries are kept
// for storage so rebuilding at a newer version picks those tokens up.
type RoleMap struct {
	source  map[string][]string
	roles   map[string]PermissionSet
	version *semver.Version
}

// NewRoleMap validates src and expands any patterns in it against the
// current vocabulary.
func NewRoleMap(src map[string][]string) (RoleMap, error) {
	return NewRoleMapAt(src, VocabularyVersion)
}

// NewRoleMapAt validates src against vocabulary version v and expands any
// patterns in it. Returns INVALID_ROLE_MAP for empty role names, unknown
// tokens, tokens newer than v, malformed patterns, or patterns that match
// nothing at v. A nil v means VocabularyVersion.
func NewRoleMapAt(src map[string][]string, v *semver.Version) (RoleMap, error) {
	if v == nil {
		v = VocabularyVersion
	}
	vocab := VocabularyAt(v)
	m := RoleMap{
		source:  make(map[string][]string, len(src)),
		roles:   make(map[string]PermissionSet, len(src)),
		version: v,
	}
	for role, entries := range src {
		if strings.TrimSpace(role) == "" {
			return RoleMap{}, oops.In("access").
				Code("INVALID_ROLE_MAP").
				New("role name cannot be empty")
		}
		set := make(PermissionSet, len(entries))
		for _, entry := range entries {
			if !isPattern(entry) {
				p := Permission(strings.TrimSpace(entry))
				if !p.Valid() {
					return RoleMap{}, oops.In("access").
						Code("INVALID_ROLE_MAP").
						With("role", role).
						With("permission", entry).
						Errorf("unknown permission %q", entry)
				}
				if p.Since().GreaterThan(v) {
					return RoleMap{}, oops.In("access").
						Code("INVALID_ROLE_MAP").
						With("role", role).
						With("permission", entry).
						With("vocabulary", v.String()).
						Errorf("permission %q is newer than vocabulary %s", entry, v)
				}
				set.Add(p)
				continue
			}
			g, err := glob.Compile(entry, ':')
			if err != nil {
				return RoleMap{}, oops.In("access").
					Code("INVALID_ROLE_MAP").
					With("role", role).
					With("pattern", entry).
					Wrap(err)
			}
			matched := 0
			for _, p := range vocab {
				if g.Match(string(p)) {
					set.Add(p)
					matched++
				}
			}
			if matched == 0 {
				return RoleMap{}, oops.In("access").
					Code("INVALID_ROLE_MAP").
					With("role", role).
					With("pattern", entry).
					With("vocabulary", v.String()).
					Errorf("pattern %q matches no permission", entry)
			}
		}
		m.source[role] = slices.Clone(entries)
		m.roles[role] = set
	}
	return m, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Version returns the vocabulary version the map was built at.
func (m RoleMap) Version() *semver.Version {
	if m.version == nil {
		return VocabularyVersion
	}
	return m.version
}

// At rebuilds the map from its source entries at vocabulary version v.
func (m RoleMap) At(v *semver.Version) (RoleMap, error) {
	return NewRoleMapAt(m.source, v)
}

// Permissions returns the permissions granted by role.
// Roles absent from the map fall back to the system roles; any other unknown
// role grants nothing. The returned set must not be modified.
func (m RoleMap) Permissions(role string) PermissionSet {
	if set, ok := m.roles[role]; ok {
		return set
	}
	if perms, ok := systemRoles[role]; ok {
		return NewPermissionSet(perms...)
	}
	return nil
}

// Defines reports whether the map itself defines role.
func (m RoleMap) Defines(role string) bool {
	_, ok := m.roles[role]
	return ok
}

// Roles returns the role names defined by the map, sorted.
func (m RoleMap) Roles() []string {
	out := make([]string, 0, len(m.roles))
	for role := range m.roles {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}

// RolesWith returns every role, including system roles, that grants p.
func (m RoleMap) RolesWith(p Permission) []string {
	var out []string
	for role, set := range m.roles {
		if set.Has(p) {
			out = append(out, role)
		}
	}
	for role, perms := range systemRoles {
		if !m.Defines(role) && slices.Contains(perms, p) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}

// Source returns a copy of the entries the map was built from.
func (m RoleMap) Source() map[string][]string {
	out := make(map[string][]string, len(m.source))
	for role, entries := range m.source {
		out[role] = slices.Clone(entries)
	}
	return out
}

// Len returns the number of roles defined by the map.
func (m RoleMap) Len() int {
	return len(m.roles)
}

// MarshalJSON encodes the map in its source form.
func (m RoleMap) MarshalJSON() ([]byte, error) {
	if m.source == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.source)
}

// UnmarshalJSON decodes and validates a role map.
func (m *RoleMap) UnmarshalJSON(data []byte) error {
	var src map[string][]string
	if err := json.Unmarshal(data, &src); err != nil {
		return oops.In("access").Code("INVALID_ROLE_MAP").Wrap(err)
	}
	parsed, err := NewRoleMap(src)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// compose merges multiple permission slices into one, dropping duplicates.
func compose(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		for _, p := range g {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func toStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
