// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package audit

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// ErrAuditImmutable is returned by every attempt to change or remove an entry.
var ErrAuditImmutable = errors.New("logs cannot be deleted")

// Action is the dotted type of an audited change.
type Action string

// Audited actions.
const (
	ActionWorldGrantAdded     Action = "auth.user.grant.world.added"
	ActionWorldGrantRemoved   Action = "auth.user.grant.world.removed"
	ActionRoomGrantAdded      Action = "auth.user.grant.room.added"
	ActionRoomGrantRemoved    Action = "auth.user.grant.room.removed"
	ActionUserBanned          Action = "auth.user.banned"
	ActionUserSilenced        Action = "auth.user.silenced"
	ActionUserReactivated     Action = "auth.user.reactivated"
	ActionWorldRolesUpdated   Action = "world.roles.updated"
	ActionWorldTraitGrantsSet Action = "world.trait_grants.updated"
	ActionRoomTraitGrantsSet  Action = "room.trait_grants.updated"
	ActionWorldCreated        Action = "world.created"
	ActionRoomCreated         Action = "room.created"
	ActionUserDeleted         Action = "auth.user.deleted"
)

// Payload describes what changed. Object is the ID of the thing acted on.
type Payload struct {
	Object string         `json:"object,omitempty"`
	Old    any            `json:"old,omitempty"`
	New    any            `json:"new,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Entry is one immutable audit record.
type Entry struct {
	ID        ulid.ULID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// ActorID is empty for changes made by the system.
	ActorID string  `json:"actor_id,omitempty"`
	WorldID string  `json:"world_id"`
	Action  Action  `json:"action"`
	Payload Payload `json:"payload"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	WorldID      string
	ActorID      string
	ActionPrefix string
	ObjectID     string
	Since        time.Time
	Until        time.Time
	// Limit caps the number of entries a query yields. Zero means no cap.
	Limit int
}

// Repository stores entries. Implementations take part in the transaction
// carried by ctx, if any.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// Query returns up to limit entries matching f with IDs greater than
	// after, in ID order.
	Query(ctx context.Context, f Filter, after ulid.ULID, limit int) ([]Entry, error)
}

// DefaultPageSize is the number of entries fetched per repository round trip.
const DefaultPageSize = 200

var (
	appendsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_audit_appends_total",
		Help: "Total number of audit entries written",
	}, []string{"action"})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldgate_audit_failures_total",
		Help: "Total number of audit log failures",
	}, []string{"reason"})
)

// Log is the audit log service.
type Log struct {
	repo     Repository
	pageSize int
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithPageSize sets how many entries Query fetches per round trip.
func WithPageSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates a Log over repo.
func NewLog(repo Repository, opts ...Option) *Log {
	l := &Log{
		repo:     repo,
		pageSize: DefaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append assigns the entry an ID and timestamp and stores it.
// Call it with the context of the transaction that makes the audited change.
func (l *Log) Append(ctx context.Context, e Entry) (ulid.ULID, error) {
	if e.WorldID == "" {
		return ulid.ULID{}, oops.In("audit").Code("INVALID_AUDIT_ENTRY").New("world id cannot be empty")
	}
	if !validAction(e.Action) {
		return ulid.ULID{}, oops.In("audit").
			Code("INVALID_AUDIT_ENTRY").
			With("action", e.Action).
			New("action must be a dotted identifier")
	}

	e.ID = ulid.Make()
	e.Timestamp = l.now()
	if err := l.repo.Append(ctx, e); err != nil {
		failuresCounter.WithLabelValues("append_failed").Inc()
		return ulid.ULID{}, oops.In("audit").
			Code("AUDIT_APPEND_FAILED").
			With("action", e.Action).
			With("world_id", e.WorldID).
			Wrap(err)
	}
	appendsCounter.WithLabelValues(string(e.Action)).Inc()
	return e.ID, nil
}

// Query lazily yields the entries matching f in creation order.
// Iteration stops after the first error, which is yielded once.
func (l *Log) Query(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var after ulid.ULID
		yielded := 0
		for {
			size := l.pageSize
			if f.Limit > 0 && f.Limit-yielded < size {
				size = f.Limit - yielded
			}
			if size <= 0 {
				return
			}
			page, err := l.repo.Query(ctx, f, after, size)
			if err != nil {
				failuresCounter.WithLabelValues("query_failed").Inc()
				yield(Entry{}, oops.In("audit").Code("AUDIT_QUERY_FAILED").Wrap(err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				yielded++
				after = e.ID
			}
			if len(page) < size {
				return
			}
		}
	}
}

// Collect drains a query into a slice.
func (l *Log) Collect(ctx context.Context, f Filter) ([]Entry, error) {
	var out []Entry
	for e, err := range l.Query(ctx, f) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Delete always fails: entries are immutable.
func (l *Log) Delete(_ context.Context, id ulid.ULID) error {
	return immutable("delete", id)
}

// Update always fails: entries are immutable.
func (l *Log) Update(_ context.Context, e Entry) error {
	return immutable("update", e.ID)
}

func immutable(op string, id ulid.ULID) error {
	return oops.In("audit").
		Code("AUDIT_IMMUTABLE").
		With("operation", op).
		With("entry_id", id.String()).
		Wrap(ErrAuditImmutable)
}

func validAction(a Action) bool {
	s := string(a)
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || !strings.Contains(s, ".") {
		return false
	}
	for _, r := range s {
		if !(r == '.' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
