// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package access decides what a user may do inside a world and its rooms.
//
// A user's effective permissions in a scope are the union of the permission
// sets of every role the user holds there:
//   - roles granted explicitly on the world (world grants)
//   - roles granted explicitly on the room (room grants)
//   - roles granted implicitly because the user's traits match a trait
//     expression configured on the world or the room
//
// The union is then capped by moderation state. Banned users hold nothing;
// silenced users keep only the read-only allow-list.
//
// Every evaluation fails closed: when configuration or grant data cannot be
// loaded the answer is "deny", never an error the caller could mistake for
// "allow".
package access
