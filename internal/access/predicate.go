// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"context"

	"github.com/samber/oops"
)

// Request identifies whose access is checked and where.
// RoomID is empty for world-level checks.
type Request struct {
	Subject Subject
	WorldID string
	RoomID  string
}

// Checker answers single-permission questions. *Resolver implements it.
type Checker interface {
	HasPermission(ctx context.Context, subject Subject, worldID string, perm Permission, roomID string) (bool, error)
}

// Predicate is a composable access rule.
type Predicate func(ctx context.Context, c Checker, req Request) bool

// Has returns a predicate satisfied when the subject holds perm.
// Errors count as "not held".
func Has(perm Permission) Predicate {
	return func(ctx context.Context, c Checker, req Request) bool {
		ok, err := c.HasPermission(ctx, req.Subject, req.WorldID, perm, req.RoomID)
		return err == nil && ok
	}
}

// And is satisfied when every predicate is. And() is always satisfied.
func And(preds ...Predicate) Predicate {
	return func(ctx context.Context, c Checker, req Request) bool {
		for _, p := range preds {
			if !p(ctx, c, req) {
				return false
			}
		}
		return true
	}
}

// Or is satisfied when any predicate is. Or() is never satisfied.
func Or(preds ...Predicate) Predicate {
	return func(ctx context.Context, c Checker, req Request) bool {
		for _, p := range preds {
			if p(ctx, c, req) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(ctx context.Context, c Checker, req Request) bool {
		return !p(ctx, c, req)
	}
}

// Always is satisfied for every request.
func Always(context.Context, Checker, Request) bool { return true }

// Never is satisfied for no request.
func Never(context.Context, Checker, Request) bool { return false }

// Require evaluates pred and returns a PERMISSION_DENIED error when it fails.
func Require(ctx context.Context, c Checker, req Request, pred Predicate) error {
	if pred(ctx, c, req) {
		return nil
	}
	return oops.In("access").
		Code("PERMISSION_DENIED").
		With("user_id", req.Subject.ID).
		With("world_id", req.WorldID).
		Wrap(ErrPermissionDenied)
}
