// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Permission is a token from the closed permission vocabulary.
// Tokens are namespaced "world:<action>" or "room:<action>".
type Permission string

// Scope is the namespace a permission belongs to.
type Scope string

// Permission scopes.
const (
	ScopeWorld Scope = "world"
	ScopeRoom  Scope = "room"
)

// World permissions.
const (
	WorldView                  Permission = "world:view"
	WorldUpdate                Permission = "world:update"
	WorldAnnounce              Permission = "world:announce"
	WorldSecrets               Permission = "world:secrets"
	WorldAPI                   Permission = "world:api"
	WorldGraphs                Permission = "world:graphs"
	WorldChatDirect            Permission = "world:chat.direct"
	WorldExhibitionContact     Permission = "world:exhibition.contact"
	WorldRoomsCreateChat       Permission = "world:rooms.create.chat"
	WorldRoomsCreateBBB        Permission = "world:rooms.create.bbb"
	WorldRoomsCreateStage      Permission = "world:rooms.create.stage"
	WorldRoomsCreateExhibition Permission = "world:rooms.create.exhibition"
	WorldRoomsCreatePoster     Permission = "world:rooms.create.poster"
	WorldUsersList             Permission = "world:users.list"
	WorldUsersManage           Permission = "world:users.manage"
	WorldConnectionsUnlimited  Permission = "world:connections.unlimited"
)

// Room permissions.
const (
	RoomView             Permission = "room:view"
	RoomUpdate           Permission = "room:update"
	RoomDelete           Permission = "room:delete"
	RoomAnnounce         Permission = "room:announce"
	RoomInvite           Permission = "room:invite"
	RoomViewers          Permission = "room:viewers"
	RoomChatRead         Permission = "room:chat.read"
	RoomChatJoin         Permission = "room:chat.join"
	RoomChatSend         Permission = "room:chat.send"
	RoomChatModerate     Permission = "room:chat.moderate"
	RoomBBBJoin          Permission = "room:bbb.join"
	RoomBBBModerate      Permission = "room:bbb.moderate"
	RoomBBBRecordings    Permission = "room:bbb.recordings"
	RoomJanusJoin        Permission = "room:janus.join"
	RoomJanusModerate    Permission = "room:janus.moderate"
	RoomZoomJoin         Permission = "room:zoom.join"
	RoomQuestionRead     Permission = "room:question.read"
	RoomQuestionAsk      Permission = "room:question.ask"
	RoomQuestionVote     Permission = "room:question.vote"
	RoomQuestionModerate Permission = "room:question.moderate"
	RoomRouletteJoin     Permission = "room:roulette.join"
	RoomPollRead         Permission = "room:poll.read"
	RoomPollVote         Permission = "room:poll.vote"
	RoomPollEarlyResults Permission = "room:poll.early_results"
	RoomPollManage       Permission = "room:poll.manage"
)

// vocabulary maps every known permission to the vocabulary version that
// introduced it. Entries are only ever added.
var vocabulary = map[Permission]string{
	WorldView:                  "1.0.0",
	WorldUpdate:                "1.0.0",
	WorldAnnounce:              "1.0.0",
	WorldSecrets:               "1.0.0",
	WorldAPI:                   "1.0.0",
	WorldGraphs:                "1.0.0",
	WorldChatDirect:            "1.0.0",
	WorldExhibitionContact:     "1.0.0",
	WorldRoomsCreateChat:       "1.0.0",
	WorldRoomsCreateBBB:        "1.0.0",
	WorldRoomsCreateStage:      "1.0.0",
	WorldRoomsCreateExhibition: "1.0.0",
	WorldRoomsCreatePoster:     "1.1.0",
	WorldUsersList:             "1.0.0",
	WorldUsersManage:           "1.0.0",
	WorldConnectionsUnlimited:  "1.0.0",

	RoomView:             "1.0.0",
	RoomUpdate:           "1.0.0",
	RoomDelete:           "1.0.0",
	RoomAnnounce:         "1.0.0",
	RoomInvite:           "1.0.0",
	RoomViewers:          "1.0.0",
	RoomChatRead:         "1.0.0",
	RoomChatJoin:         "1.0.0",
	RoomChatSend:         "1.0.0",
	RoomChatModerate:     "1.0.0",
	RoomBBBJoin:          "1.0.0",
	RoomBBBModerate:      "1.0.0",
	RoomBBBRecordings:    "1.0.0",
	RoomJanusJoin:        "1.1.0",
	RoomJanusModerate:    "1.1.0",
	RoomZoomJoin:         "1.1.0",
	RoomQuestionRead:     "1.0.0",
	RoomQuestionAsk:      "1.0.0",
	RoomQuestionVote:     "1.0.0",
	RoomQuestionModerate: "1.0.0",
	RoomRouletteJoin:     "1.0.0",
	RoomPollRead:         "1.1.0",
	RoomPollVote:         "1.1.0",
	RoomPollEarlyResults: "1.1.0",
	RoomPollManage:       "1.1.0",
}

// VocabularyVersion is the version of the vocabulary compiled into this build.
var VocabularyVersion = semver.MustParse("1.1.0")

// ParseVocabularyVersion parses a stored or declared vocabulary version.
// An empty string means VocabularyVersion. Returns
// UNSUPPORTED_VOCABULARY_VERSION for malformed versions and for versions
// newer than this build knows.
func ParseVocabularyVersion(s string) (*semver.Version, error) {
	if strings.TrimSpace(s) == "" {
		return VocabularyVersion, nil
	}
	v, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, oops.In("access").
			Code("UNSUPPORTED_VOCABULARY_VERSION").
			With("vocabulary", s).
			Wrap(err)
	}
	if v.GreaterThan(VocabularyVersion) {
		return nil, oops.In("access").
			Code("UNSUPPORTED_VOCABULARY_VERSION").
			With("vocabulary", s).
			Errorf("vocabulary %s is newer than %s", v, VocabularyVersion)
	}
	return v, nil
}

// Scope returns the namespace of the permission, or "" for malformed tokens.
func (p Permission) Scope() Scope {
	prefix, _, ok := strings.Cut(string(p), ":")
	if !ok {
		return ""
	}
	switch Scope(prefix) {
	case ScopeWorld, ScopeRoom:
		return Scope(prefix)
	default:
		return ""
	}
}

// Valid reports whether p is part of the vocabulary.
func (p Permission) Valid() bool {
	_, ok := vocabulary[p]
	return ok
}

// Since returns the vocabulary version that introduced p, or nil if p is unknown.
func (p Permission) Since() *semver.Version {
	v, ok := vocabulary[p]
	if !ok {
		return nil
	}
	return semver.MustParse(v)
}

func (p Permission) String() string {
	return string(p)
}

// ParsePermission converts a token into a Permission.
// Returns an UNKNOWN_PERMISSION error for tokens outside the vocabulary.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	if !p.Valid() {
		return "", oops.In("access").
			Code("UNKNOWN_PERMISSION").
			With("permission", s).
			Errorf("unknown permission %q", s)
	}
	return p, nil
}

// Vocabulary returns every known permission in sorted order.
func Vocabulary() []Permission {
	out := make([]Permission, 0, len(vocabulary))
	for p := range vocabulary {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// VocabularyAt returns the permissions that exist at vocabulary version v.
// Clients pinned to an older vocabulary use this to avoid tokens they do not know.
func VocabularyAt(v *semver.Version) []Permission {
	out := make([]Permission, 0, len(vocabulary))
	for p, since := range vocabulary {
		if !semver.MustParse(since).GreaterThan(v) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// silencedAllowList is the most a silenced user can ever hold.
var silencedAllowList = []Permission{WorldView, RoomView, RoomChatRead, RoomChatJoin}

// SilencedAllowList returns the permissions a silenced user keeps.
func SilencedAllowList() PermissionSet {
	return NewPermissionSet(silencedAllowList...)
}
