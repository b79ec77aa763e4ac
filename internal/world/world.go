// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package world holds the domain records access decisions are made over:
// worlds (tenants), their rooms and users, and explicit role grants.
package world

import (
	"slices"
	"time"

	"github.com/holomush/worldgate/internal/access"
)

// Sentinel errors shared with the access package so errors.Is works across layers.
var (
	// ErrNotFound is returned when a world, room or user does not exist.
	ErrNotFound = access.ErrNotFound
	// ErrPermissionDenied is returned when an actor is not authorized.
	ErrPermissionDenied = access.ErrPermissionDenied
)

// World is a tenant with its own role map and trait grants.
type World struct {
	ID          string
	Name        string
	Roles       access.RoleMap
	TraitGrants access.TraitGrants
	// VocabularyVersion is the permission vocabulary the role map was written against.
	VocabularyVersion string
	CreatedAt         time.Time
}

// NewWorld returns a world with the default roles and trait grants.
func NewWorld(id, name string) *World {
	return &World{
		ID:                id,
		Name:              name,
		Roles:             access.DefaultRoleMap(),
		TraitGrants:       access.DefaultWorldTraitGrants(),
		VocabularyVersion: access.VocabularyVersion.String(),
		CreatedAt:         time.Now().UTC(),
	}
}

// Validate checks the world's fields.
func (w *World) Validate() error {
	if err := ValidateID("world_id", w.ID); err != nil {
		return err
	}
	if err := ValidateName(w.Name); err != nil {
		return err
	}
	if _, err := access.ParseVocabularyVersion(w.VocabularyVersion); err != nil {
		return err
	}
	return w.TraitGrants.Validate()
}

// PinVocabulary rebuilds the role map at the world's vocabulary version, so
// patterns only cover tokens that existed at that version. An empty version
// is set to the current one.
func (w *World) PinVocabulary() error {
	v, err := access.ParseVocabularyVersion(w.VocabularyVersion)
	if err != nil {
		return err
	}
	roles, err := w.Roles.At(v)
	if err != nil {
		return err
	}
	w.Roles = roles
	w.VocabularyVersion = v.String()
	return nil
}

// Config returns the world's access configuration.
func (w *World) Config() access.WorldConfig {
	return access.WorldConfig{
		WorldID:     w.ID,
		Roles:       w.Roles,
		TraitGrants: w.TraitGrants.Clone(),
	}
}

// Room is a space inside a world with its own trait grants.
type Room struct {
	ID          string
	WorldID     string
	Name        string
	TraitGrants access.TraitGrants
	CreatedAt   time.Time
}

// NewRoom returns a room with the default trait grants.
func NewRoom(id, worldID, name string) *Room {
	return &Room{
		ID:          id,
		WorldID:     worldID,
		Name:        name,
		TraitGrants: access.DefaultRoomTraitGrants(),
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks the room's fields.
func (r *Room) Validate() error {
	if err := ValidateID("room_id", r.ID); err != nil {
		return err
	}
	if err := ValidateID("world_id", r.WorldID); err != nil {
		return err
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	return r.TraitGrants.Validate()
}

// Config returns the room's access configuration.
func (r *Room) Config() access.RoomConfig {
	return access.RoomConfig{
		RoomID:      r.ID,
		WorldID:     r.WorldID,
		TraitGrants: r.TraitGrants.Clone(),
	}
}

// User is a member of one world.
type User struct {
	ID         string
	WorldID    string
	Type       access.UserType
	Traits     []string
	Moderation access.ModerationState
	Deleted    bool
	CreatedAt  time.Time
}

// Validate checks the user's fields.
func (u *User) Validate() error {
	if err := ValidateID("user_id", u.ID); err != nil {
		return err
	}
	if err := ValidateID("world_id", u.WorldID); err != nil {
		return err
	}
	if _, err := access.ParseUserType(string(u.Type)); err != nil {
		return err
	}
	return ValidateTraits(u.Traits)
}

// Subject returns the access subject for the user.
func (u *User) Subject() access.Subject {
	return access.Subject{
		ID:         u.ID,
		Type:       u.Type,
		Traits:     slices.Clone(u.Traits),
		Moderation: u.Moderation,
		Deleted:    u.Deleted,
	}
}

// WorldGrant gives a user a role across a whole world.
type WorldGrant struct {
	WorldID string
	UserID  string
	Role    string
}

// RoomGrant gives a user a role inside one room.
type RoomGrant struct {
	WorldID string
	RoomID  string
	UserID  string
	Role    string
}
