// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import "github.com/samber/oops"

// ModerationState caps what a user may do regardless of the roles they hold.
type ModerationState string

// Moderation states, from least to most restrictive.
const (
	ModerationNone     ModerationState = ""
	ModerationSilenced ModerationState = "silenced"
	ModerationBanned   ModerationState = "banned"
)

// ParseModerationState converts a stored value into a ModerationState.
// "none" is accepted as an alias for the empty state.
func ParseModerationState(s string) (ModerationState, error) {
	switch s {
	case "", "none":
		return ModerationNone, nil
	case string(ModerationSilenced):
		return ModerationSilenced, nil
	case string(ModerationBanned):
		return ModerationBanned, nil
	default:
		return "", oops.In("access").
			Code("INVALID_MODERATION_STATE").
			With("state", s).
			Errorf("unknown moderation state %q", s)
	}
}

func (s ModerationState) String() string {
	if s == ModerationNone {
		return "none"
	}
	return string(s)
}

func (s ModerationState) rank() int {
	switch s {
	case ModerationBanned:
		return 2
	case ModerationSilenced:
		return 1
	default:
		return 0
	}
}

// Stricter returns whichever of a and b restricts more.
func Stricter(a, b ModerationState) ModerationState {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// UserType distinguishes people from shared and anonymous accounts.
type UserType string

// User types.
const (
	UserPerson UserType = "person"
	UserKiosk  UserType = "kiosk"
	UserAnon   UserType = "anon"
)

// ParseUserType converts a stored value into a UserType.
// The empty string is read as UserPerson.
func ParseUserType(s string) (UserType, error) {
	switch s {
	case "", string(UserPerson):
		return UserPerson, nil
	case string(UserKiosk):
		return UserKiosk, nil
	case string(UserAnon):
		return UserAnon, nil
	default:
		return "", oops.In("access").
			Code("INVALID_USER_TYPE").
			With("type", s).
			Errorf("unknown user type %q", s)
	}
}

// Subject is the user an access decision is made for.
type Subject struct {
	ID string
	// Type defaults to UserPerson when empty.
	Type UserType
	// Traits come from the user's identity token and are read-only here.
	Traits []string
	// Moderation is the state the caller currently knows about. The resolver
	// also consults the stored state and applies whichever is stricter.
	Moderation ModerationState
	// Deleted users are treated as banned.
	Deleted bool
}

// allowsEmptyExpressions reports whether empty trait expressions match the subject.
// Only people qualify; kiosks and anonymous accounts must match a real term.
func (s Subject) allowsEmptyExpressions() bool {
	return s.Type == "" || s.Type == UserPerson
}
