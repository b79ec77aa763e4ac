// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import "errors"

// Sentinel errors shared by the services built on the resolver.
var (
	// ErrPermissionDenied is returned when an actor lacks the permission an
	// operation requires. It never says which role would have been needed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when a world, room or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned for malformed inputs such as empty IDs.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConfigLoad marks failures to load role maps or trait grants.
	// The resolver never returns it; it logs it and denies.
	ErrConfigLoad = errors.New("access configuration could not be loaded")
)
