// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package traitexpr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/access/traitexpr"
	"github.com/holomush/worldgate/pkg/errutil"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want access.Expression
	}{
		{"empty text", "", access.Expression{}},
		{"star", "*", access.Expression{}},
		{"single trait", "staff", access.Expression{access.Trait("staff")}},
		{"any of", "vip | sponsor", access.Expression{access.AnyOf("vip", "sponsor")}},
		{"conjunction", "staff, vip|sponsor", access.Expression{access.Trait("staff"), access.AnyOf("vip", "sponsor")}},
		{"parenthesized single", "(vip)", access.Expression{access.AnyOf("vip")}},
		{"punctuated names", "schedule-update, eventyay:ticket.123", access.Expression{access.Trait("schedule-update"), access.Trait("eventyay:ticket.123")}},
		{"quoted names", `"has space" | "a,b"`, access.Expression{access.AnyOf("has space", "a,b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := traitexpr.Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"dangling comma", "staff,"},
		{"dangling bar", "vip |"},
		{"empty group", "()"},
		{"unclosed group", "(vip | sponsor"},
		{"star mixed with terms", "*, staff"},
		{"empty quoted name", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := traitexpr.Parse(tt.text)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "INVALID_TRAIT_EXPRESSION")
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "*", traitexpr.Format(access.Expression{}))
	assert.Equal(t, "staff, vip | sponsor",
		traitexpr.Format(access.Expression{access.Trait("staff"), access.AnyOf("vip", "sponsor")}))
	assert.Equal(t, `(vip), "has space"`,
		traitexpr.Format(access.Expression{access.AnyOf("vip"), access.Trait("has space")}))
}

func TestParseGrants(t *testing.T) {
	grants, err := traitexpr.ParseGrants(map[string]string{
		"viewer":  "*",
		"speaker": "speaker | moderator",
	})
	require.NoError(t, err)
	assert.True(t, grants["viewer"].Matches(access.NewTraitSet(), true))
	assert.True(t, grants["speaker"].Matches(access.NewTraitSet("moderator"), true))

	_, err = traitexpr.ParseGrants(map[string]string{"bad": "a,,b"})
	require.Error(t, err)
}
