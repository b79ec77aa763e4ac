// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/store/memory"
	"github.com/holomush/worldgate/internal/world"
)

func TestLoadSubject(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Worlds().Create(ctx, world.NewWorld("w1", "Conference")))
	require.NoError(t, s.Users().Upsert(ctx, &world.User{
		ID:      "u1",
		WorldID: "w1",
		Type:    access.UserAnon,
		Traits:  []string{"attendee"},
	}))
	require.NoError(t, s.Users().SetModeration(ctx, "w1", "u1", access.ModerationBanned))

	t.Run("stored user", func(t *testing.T) {
		subject, err := world.LoadSubject(ctx, s.Users(), "w1", "u1")
		require.NoError(t, err)
		assert.Equal(t, access.Subject{
			ID:         "u1",
			Type:       access.UserAnon,
			Traits:     []string{"attendee"},
			Moderation: access.ModerationBanned,
		}, subject)
	})

	t.Run("unknown user is a person without traits", func(t *testing.T) {
		subject, err := world.LoadSubject(ctx, s.Users(), "w1", "ghost")
		require.NoError(t, err)
		assert.Equal(t, access.Subject{ID: "ghost", Type: access.UserPerson}, subject)
	})

	t.Run("same id in another world", func(t *testing.T) {
		subject, err := world.LoadSubject(ctx, s.Users(), "w2", "u1")
		require.NoError(t, err)
		assert.Empty(t, subject.Traits)
		assert.Equal(t, access.ModerationNone, subject.Moderation)
	})
}
