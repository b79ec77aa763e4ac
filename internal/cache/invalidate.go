// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"log/slog"

	"github.com/holomush/worldgate/pkg/errutil"
)

// Invalidator drops cached entries for keys. Services call it synchronously
// after commit. Implementations must not fail the caller's operation; the
// data is already committed, so errors are logged and swallowed.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string)
}

// Multi fans an invalidation out to several invalidators in order.
type Multi []Invalidator

// Invalidate implements Invalidator.
func (m Multi) Invalidate(ctx context.Context, keys ...string) {
	for _, inv := range m {
		if inv != nil {
			inv.Invalidate(ctx, keys...)
		}
	}
}

// Nop ignores every invalidation.
type Nop struct{}

// Invalidate implements Invalidator.
func (Nop) Invalidate(context.Context, ...string) {}

// Publisher sends change notices to other nodes.
type Publisher interface {
	Publish(ctx context.Context, keys ...string) error
}

// Broadcast adapts a Publisher to an Invalidator that logs delivery failures.
type Broadcast struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// Invalidate implements Invalidator.
func (b Broadcast) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := b.Publisher.Publish(ctx, keys...); err != nil {
		logger := b.Logger
		if logger == nil {
			logger = slog.Default()
		}
		errutil.LogError(logger, "failed to publish cache invalidation", err)
	}
}
