// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/holomush/worldgate/internal/access"
)

// Validation limits for domain types.
const (
	MaxIDLength   = 64
	MaxNameLength = 100
	MaxRoleLength = 64
	MaxTraitCount = 256
)

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateID checks an opaque identifier supplied by a caller.
// IDs must be non-empty, printable, free of whitespace, and within length limit.
func ValidateID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Message: "cannot be empty"}
	}
	if len(id) > MaxIDLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d", MaxIDLength)}
	}
	if !utf8.ValidString(id) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &ValidationError{Field: field, Message: "cannot contain whitespace or control characters"}
		}
	}
	return nil
}

// ValidateName checks that a display name is valid.
// Names must be non-empty, valid UTF-8, no control characters, and within length limit.
func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	if !utf8.ValidString(name) {
		return &ValidationError{Field: "name", Message: "must be valid UTF-8"}
	}
	if len(name) > MaxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("exceeds maximum length of %d", MaxNameLength)}
	}
	if hasControlChars(name) {
		return &ValidationError{Field: "name", Message: "cannot contain control characters"}
	}
	return nil
}

// ValidateRole checks a role name used in a grant.
// Any non-empty name is accepted; roles the world does not define simply grant nothing.
func ValidateRole(role string) error {
	if strings.TrimSpace(role) == "" {
		return &ValidationError{Field: "role", Message: "cannot be empty"}
	}
	if len(role) > MaxRoleLength {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("exceeds maximum length of %d", MaxRoleLength)}
	}
	if hasControlChars(role) {
		return &ValidationError{Field: "role", Message: "cannot contain control characters"}
	}
	return nil
}

// ValidateTraits checks the trait list carried by a user.
func ValidateTraits(traits []string) error {
	if len(traits) > MaxTraitCount {
		return &ValidationError{Field: "traits", Message: fmt.Sprintf("exceeds maximum count of %d", MaxTraitCount)}
	}
	for _, t := range traits {
		if t == "" {
			return &ValidationError{Field: "traits", Message: "cannot contain empty traits"}
		}
	}
	return nil
}

// Invalid marks a validation failure as an INVALID_REQUEST error that
// matches access.ErrInvalidRequest.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return oops.In("world").Code("INVALID_REQUEST").Wrap(errors.Join(access.ErrInvalidRequest, err))
}

// ValidateIDs checks several identifiers given as field, value pairs.
func ValidateIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := ValidateID(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
