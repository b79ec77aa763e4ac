// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package cache holds the per-node access configuration cache and the grant
// cache, together with the invalidation plumbing that keeps them in step with
// committed changes.
//
// Keys name what they cache:
//
//	world:<world>          role map and world trait grants
//	room:<room>            room trait grants
//	wg:<world>:<user>      explicit world roles
//	rg:<room>:<user>       explicit room roles
//	mod:<world>:<user>     stored moderation state
//
// Services invalidate synchronously after commit and publish the same keys
// to other nodes.
package cache

import "strings"

// Key prefixes.
const (
	prefixWorld      = "world:"
	prefixRoom       = "room:"
	prefixWorldRoles = "wg:"
	prefixRoomRoles  = "rg:"
	prefixModeration = "mod:"
)

// WorldKey is the config key of a world.
func WorldKey(worldID string) string { return prefixWorld + worldID }

// RoomKey is the config key of a room.
func RoomKey(roomID string) string { return prefixRoom + roomID }

// WorldRolesKey is the key of a user's explicit world roles.
func WorldRolesKey(worldID, userID string) string {
	return prefixWorldRoles + worldID + ":" + userID
}

// RoomRolesKey is the key of a user's explicit room roles.
func RoomRolesKey(roomID, userID string) string {
	return prefixRoomRoles + roomID + ":" + userID
}

// ModerationKey is the key of a user's stored moderation state.
func ModerationKey(worldID, userID string) string {
	return prefixModeration + worldID + ":" + userID
}

// UserKeys returns every grant-cache key for a user of a world, plus the
// room keys for the given rooms.
func UserKeys(worldID, userID string, roomIDs ...string) []string {
	keys := []string{WorldRolesKey(worldID, userID), ModerationKey(worldID, userID)}
	for _, r := range roomIDs {
		keys = append(keys, RoomRolesKey(r, userID))
	}
	return keys
}

func isConfigKey(key string) bool {
	return strings.HasPrefix(key, prefixWorld) || strings.HasPrefix(key, prefixRoom)
}

func isGrantKey(key string) bool {
	return strings.HasPrefix(key, prefixWorldRoles) ||
		strings.HasPrefix(key, prefixRoomRoles) ||
		strings.HasPrefix(key, prefixModeration)
}
