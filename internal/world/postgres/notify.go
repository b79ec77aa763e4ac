// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
)

// ChangeChannel is the NOTIFY channel carrying changed cache keys.
const ChangeChannel = "worldgate_config"

// maxPayload stays under PostgreSQL's 8000 byte NOTIFY limit.
const maxPayload = 7900

// keySeparator cannot occur in keys: IDs reject whitespace.
const keySeparator = "\n"

// Notifier implements world.ChangeNotifier with pg_notify. Notices sent
// inside a transaction are delivered only if it commits.
type Notifier struct {
	pool store.Querier
}

// NewNotifier creates a Notifier.
func NewNotifier(pool store.Querier) *Notifier {
	return &Notifier{pool: pool}
}

// NotifyChanged publishes keys on ChangeChannel, split across as many
// notices as the payload limit requires.
func (n *Notifier) NotifyChanged(ctx context.Context, keys ...string) error {
	for _, payload := range chunkKeys(keys, maxPayload) {
		if _, err := store.Conn(ctx, n.pool).Exec(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, payload); err != nil {
			return oops.Code("NOTIFY_FAILED").With("channel", ChangeChannel).Wrap(errors.Join(store.ErrStorageFailure, err))
		}
	}
	return nil
}

func chunkKeys(keys []string, limit int) []string {
	var (
		chunks []string
		b      strings.Builder
	)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if b.Len() > 0 && b.Len()+1+len(k) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString(keySeparator)
		}
		b.WriteString(k)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// ParsePayload splits a notice payload back into keys.
func ParsePayload(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, keySeparator)
}

// ChangeHandler receives changed keys. A nil slice means notices may have
// been missed and every cached entry should be dropped.
type ChangeHandler func(keys []string)

// Listener holds a dedicated connection LISTENing on ChangeChannel.
type Listener struct {
	pool    *pgxpool.Pool
	handler ChangeHandler
	logger  *slog.Logger
	backoff time.Duration
}

// NewListener creates a Listener that passes changed keys to handler.
func NewListener(pool *pgxpool.Pool, handler ChangeHandler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{pool: pool, handler: handler, logger: logger, backoff: 100 * time.Millisecond}
}

// Run listens until ctx is cancelled, reconnecting after connection loss.
// Every (re)connect reports a nil key set because notices sent while
// disconnected are lost.
func (l *Listener) Run(ctx context.Context) error {
	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(l.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("config change listener disconnected", "channel", ChangeChannel, "error", err)
		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return oops.Code("LISTEN_FAILED").Wrap(err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return oops.Code("LISTEN_FAILED").With("channel", ChangeChannel).Wrap(err)
	}
	l.logger.Debug("listening for config changes", "channel", ChangeChannel)
	l.handler(nil)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return oops.Code("LISTEN_FAILED").With("channel", ChangeChannel).Wrap(err)
		}
		l.handler(ParsePayload(n.Payload))
	}
}

// Compile-time interface check.
var _ world.ChangeNotifier = (*Notifier)(nil)
