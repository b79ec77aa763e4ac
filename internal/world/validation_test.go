// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/pkg/errutil"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		errMsg  string
	}{
		{"valid id", "main-stage", false, ""},
		{"opaque id", "01J9Z3Q2W8", false, ""},
		{"empty id", "", true, "cannot be empty"},
		{"id too long", strings.Repeat("a", MaxIDLength+1), true, "exceeds maximum length"},
		{"max length id", strings.Repeat("a", MaxIDLength), false, ""},
		{"space", "main stage", true, "cannot contain whitespace"},
		{"control char", "r\x00", true, "cannot contain whitespace or control characters"},
		{"invalid UTF-8 bytes", "\xff\xfe", true, "must be valid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("room_id", tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "room_id", ve.Field)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		errMsg  string
	}{
		{"valid name", "Main Stage", false, ""},
		{"empty name", "", true, "cannot be empty"},
		{"name too long", strings.Repeat("a", MaxNameLength+1), true, "exceeds maximum length"},
		{"unicode name", "Große Bühne", false, ""},
		{"newline not allowed", "main\nstage", true, "cannot contain control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRole(t *testing.T) {
	assert.NoError(t, ValidateRole("speaker"))
	assert.NoError(t, ValidateRole("undefined-roles-are-allowed"))
	assert.Error(t, ValidateRole("  "))
	assert.Error(t, ValidateRole(strings.Repeat("r", MaxRoleLength+1)))
	assert.Error(t, ValidateRole("role\t"))
}

func TestValidateTraits(t *testing.T) {
	assert.NoError(t, ValidateTraits(nil))
	assert.NoError(t, ValidateTraits([]string{"attendee", "speaker"}))
	assert.Error(t, ValidateTraits([]string{"attendee", ""}))
	assert.Error(t, ValidateTraits(make([]string, MaxTraitCount+1)))
}

func TestValidateIDs(t *testing.T) {
	assert.NoError(t, ValidateIDs("world_id", "w1", "user_id", "u1"))

	err := ValidateIDs("world_id", "w1", "user_id", "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "user_id", ve.Field)
}

func TestInvalid(t *testing.T) {
	assert.NoError(t, Invalid(nil))

	err := Invalid(ValidateID("world_id", ""))
	require.ErrorIs(t, err, access.ErrInvalidRequest)
	errutil.AssertErrorCode(t, err, "INVALID_REQUEST")
	assert.Contains(t, err.Error(), "world_id: cannot be empty")
}

func TestNewWorld_UsesDefaults(t *testing.T) {
	w := NewWorld("w1", "Conference")
	require.NoError(t, w.Validate())
	assert.True(t, w.Roles.Defines("attendee"))
	assert.Equal(t, access.DefaultWorldTraitGrants(), w.TraitGrants)
	assert.Equal(t, access.VocabularyVersion.String(), w.VocabularyVersion)

	cfg := w.Config()
	assert.Equal(t, "w1", cfg.WorldID)

	w.Name = ""
	assert.Error(t, w.Validate())
}

func TestWorld_PinVocabulary(t *testing.T) {
	roles, err := access.NewRoleMap(map[string][]string{"host": {"room:*"}})
	require.NoError(t, err)
	w := &World{ID: "w1", Name: "Conference", Roles: roles, VocabularyVersion: "1.0.0"}
	require.NoError(t, w.Validate())

	require.NoError(t, w.PinVocabulary())
	assert.False(t, w.Config().Roles.Permissions("host").Has(access.RoomPollRead))
	assert.True(t, w.Config().Roles.Permissions("host").Has(access.RoomChatRead))

	w.VocabularyVersion = ""
	require.NoError(t, w.PinVocabulary())
	assert.Equal(t, access.VocabularyVersion.String(), w.VocabularyVersion)
	assert.True(t, w.Config().Roles.Permissions("host").Has(access.RoomPollRead))

	w.VocabularyVersion = "9.0.0"
	errutil.AssertErrorCode(t, w.Validate(), "UNSUPPORTED_VOCABULARY_VERSION")
	errutil.AssertErrorCode(t, w.PinVocabulary(), "UNSUPPORTED_VOCABULARY_VERSION")
}

func TestNewRoom_Validate(t *testing.T) {
	r := NewRoom("r1", "w1", "Main Stage")
	require.NoError(t, r.Validate())
	assert.Equal(t, "r1", r.Config().RoomID)

	r.WorldID = ""
	assert.Error(t, r.Validate())
}

func TestUser_Subject(t *testing.T) {
	u := &User{
		ID:         "u1",
		WorldID:    "w1",
		Type:       access.UserKiosk,
		Traits:     []string{"attendee"},
		Moderation: access.ModerationSilenced,
	}
	require.NoError(t, u.Validate())

	s := u.Subject()
	assert.Equal(t, "u1", s.ID)
	assert.Equal(t, access.UserKiosk, s.Type)
	assert.Equal(t, access.ModerationSilenced, s.Moderation)

	s.Traits[0] = "mutated"
	assert.Equal(t, []string{"attendee"}, u.Traits, "subject traits are a copy")

	u.Type = "robot"
	assert.Error(t, u.Validate())
}
