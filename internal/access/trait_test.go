// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/pkg/errutil"
)

func TestExpression_Matches(t *testing.T) {
	staffAndSponsorish := access.Expression{access.Trait("staff"), access.AnyOf("vip", "sponsor")}

	tests := []struct {
		name       string
		expr       access.Expression
		traits     []string
		allowEmpty bool
		want       bool
	}{
		{"staff and vip", staffAndSponsorish, []string{"staff", "vip"}, true, true},
		{"staff and sponsor", staffAndSponsorish, []string{"staff", "sponsor"}, true, true},
		{"staff only", staffAndSponsorish, []string{"staff"}, true, false},
		{"vip only", staffAndSponsorish, []string{"vip"}, true, false},
		{"no traits", staffAndSponsorish, nil, true, false},
		{"extra traits ignored", staffAndSponsorish, []string{"x", "staff", "sponsor", "y"}, true, true},
		{"empty expression for person", access.Expression{}, nil, true, true},
		{"empty expression for kiosk", access.Expression{}, []string{"anything"}, false, false},
		{"non-empty ignores allowEmpty", access.Expression{access.Trait("a")}, []string{"a"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Matches(access.NewTraitSet(tt.traits...), tt.allowEmpty))
		})
	}
}

func TestExpression_JSONShape(t *testing.T) {
	var expr access.Expression
	require.NoError(t, json.Unmarshal([]byte(`["staff", ["vip", "sponsor"]]`), &expr))
	require.Len(t, expr, 2)
	assert.Equal(t, access.TermTrait, expr[0].Kind())
	assert.Equal(t, []string{"staff"}, expr[0].Names())
	assert.Equal(t, access.TermAnyOf, expr[1].Kind())
	assert.Equal(t, []string{"vip", "sponsor"}, expr[1].Names())

	data, err := json.Marshal(expr)
	require.NoError(t, err)
	assert.JSONEq(t, `["staff", ["vip", "sponsor"]]`, string(data))

	data, err = json.Marshal(access.Expression(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExpression_JSONRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"null", `null`},
		{"number term", `[1]`},
		{"object term", `[{"a": 1}]`},
		{"empty name", `[""]`},
		{"empty any-of", `[[]]`},
		{"nested lists", `[[["a"]]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var expr access.Expression
			err := json.Unmarshal([]byte(tt.json), &expr)
			require.Error(t, err)
		})
	}
}

func TestTraitGrants_Matching(t *testing.T) {
	grants := access.TraitGrants{
		"viewer":  {},
		"speaker": {access.Trait("speaker")},
		"vip":     {access.AnyOf("vip", "sponsor")},
	}
	assert.Equal(t, []string{"viewer", "vip"}, grants.Matching(access.NewTraitSet("sponsor"), true))
	assert.Equal(t, []string{"vip"}, grants.Matching(access.NewTraitSet("sponsor"), false))
}

func TestTraitGrants_Validate(t *testing.T) {
	require.NoError(t, access.DefaultWorldTraitGrants().Validate())
	require.NoError(t, access.DefaultRoomTraitGrants().Validate())

	err := access.TraitGrants{"": {}}.Validate()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_TRAIT_EXPRESSION")

	err = access.TraitGrants{"x": {access.AnyOf()}}.Validate()
	require.Error(t, err)
}

func TestTraitGrants_JSONMap(t *testing.T) {
	var grants access.TraitGrants
	require.NoError(t, json.Unmarshal([]byte(`{"attendee":["attendee"],"viewer":[]}`), &grants))
	assert.Len(t, grants, 2)
	assert.Empty(t, grants["viewer"])
	assert.True(t, grants["attendee"].Matches(access.NewTraitSet("attendee"), false))
}
