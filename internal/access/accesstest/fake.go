// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package accesstest provides in-memory sources for resolver tests.
package accesstest

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
)

// Sources is an in-memory ConfigSource and GrantSource.
// Set the *Err fields to make the matching lookups fail.
type Sources struct {
	mu         sync.RWMutex
	worlds     map[string]access.WorldConfig
	rooms      map[string]access.RoomConfig
	worldRoles map[[2]string][]string
	roomRoles  map[[2]string][]string
	moderation map[[2]string]access.ModerationState

	ConfigErr error
	GrantErr  error
	// Block makes every lookup wait for ctx to end.
	Block bool
}

// NewSources returns empty sources.
func NewSources() *Sources {
	return &Sources{
		worlds:     make(map[string]access.WorldConfig),
		rooms:      make(map[string]access.RoomConfig),
		worldRoles: make(map[[2]string][]string),
		roomRoles:  make(map[[2]string][]string),
		moderation: make(map[[2]string]access.ModerationState),
	}
}

// PutWorld stores a world configuration.
func (s *Sources) PutWorld(cfg access.WorldConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[cfg.WorldID] = cfg
}

// PutRoom stores a room configuration.
func (s *Sources) PutRoom(cfg access.RoomConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[cfg.RoomID] = cfg
}

// GrantWorld adds a world role for a user.
func (s *Sources) GrantWorld(worldID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{worldID, userID}
	if !slices.Contains(s.worldRoles[key], role) {
		s.worldRoles[key] = append(s.worldRoles[key], role)
	}
}

// GrantRoom adds a room role for a user.
func (s *Sources) GrantRoom(roomID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{roomID, userID}
	if !slices.Contains(s.roomRoles[key], role) {
		s.roomRoles[key] = append(s.roomRoles[key], role)
	}
}

// SetModeration stores a moderation state for a user.
func (s *Sources) SetModeration(worldID, userID string, state access.ModerationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderation[[2]string{worldID, userID}] = state
}

func (s *Sources) wait(ctx context.Context) error {
	if !s.Block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// WorldConfig implements access.ConfigSource.
func (s *Sources) WorldConfig(ctx context.Context, worldID string) (access.WorldConfig, error) {
	if err := s.wait(ctx); err != nil {
		return access.WorldConfig{}, err
	}
	if s.ConfigErr != nil {
		return access.WorldConfig{}, s.ConfigErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.worlds[worldID]
	if !ok {
		return access.WorldConfig{}, oops.Code("WORLD_NOT_FOUND").With("world_id", worldID).Wrap(access.ErrNotFound)
	}
	return cfg, nil
}

// RoomConfig implements access.ConfigSource.
func (s *Sources) RoomConfig(ctx context.Context, roomID string) (access.RoomConfig, error) {
	if err := s.wait(ctx); err != nil {
		return access.RoomConfig{}, err
	}
	if s.ConfigErr != nil {
		return access.RoomConfig{}, s.ConfigErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.rooms[roomID]
	if !ok {
		return access.RoomConfig{}, oops.Code("ROOM_NOT_FOUND").With("room_id", roomID).Wrap(access.ErrNotFound)
	}
	return cfg, nil
}

// WorldRoles implements access.GrantSource.
func (s *Sources) WorldRoles(ctx context.Context, worldID, userID string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.GrantErr != nil {
		return nil, s.GrantErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.worldRoles[[2]string{worldID, userID}]), nil
}

// RoomRoles implements access.GrantSource.
func (s *Sources) RoomRoles(ctx context.Context, roomID, userID string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.GrantErr != nil {
		return nil, s.GrantErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roomRoles[[2]string{roomID, userID}]), nil
}

// ModerationState implements access.GrantSource.
func (s *Sources) ModerationState(ctx context.Context, worldID, userID string) (access.ModerationState, error) {
	if err := s.wait(ctx); err != nil {
		return access.ModerationNone, err
	}
	if s.GrantErr != nil {
		return access.ModerationNone, s.GrantErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.moderation[[2]string{worldID, userID}], nil
}

// AllowAll is a Checker that grants everything.
type AllowAll struct{}

// HasPermission always returns true.
func (AllowAll) HasPermission(context.Context, access.Subject, string, access.Permission, string) (bool, error) {
	return true, nil
}

// DenyAll is a Checker that grants nothing.
type DenyAll struct{}

// HasPermission always returns false.
func (DenyAll) HasPermission(context.Context, access.Subject, string, access.Permission, string) (bool, error) {
	return false, nil
}
