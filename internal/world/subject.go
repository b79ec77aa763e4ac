// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"context"
	"errors"

	"github.com/holomush/worldgate/internal/access"
)

// LoadSubject returns the access subject for a user of a world using the
// stored user record. Users never seen before are people with no traits.
func LoadSubject(ctx context.Context, users UserRepository, worldID, userID string) (access.Subject, error) {
	u, err := users.Get(ctx, worldID, userID)
	if errors.Is(err, ErrNotFound) {
		return access.Subject{ID: userID, Type: access.UserPerson}, nil
	}
	if err != nil {
		return access.Subject{}, err
	}
	return u.Subject(), nil
}
