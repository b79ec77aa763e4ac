// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/worldgate/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("ROOM_NOT_FOUND").Errorf("room missing")
	errutil.AssertErrorCode(t, err, "ROOM_NOT_FOUND")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.Code("ROOM_NOT_FOUND").With("room_id", "r1").Errorf("room missing")
	errutil.AssertErrorContext(t, err, "room_id", "r1")
}
