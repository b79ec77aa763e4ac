// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/pkg/errutil"
)

type sliceRepo struct {
	mu       sync.Mutex
	entries  []Entry
	queries  int
	queryErr error
}

func (r *sliceRepo) Append(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *sliceRepo) Query(_ context.Context, f Filter, after ulid.ULID, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	var out []Entry
	for _, e := range r.entries {
		if e.ID.Compare(after) <= 0 {
			continue
		}
		if f.WorldID != "" && e.WorldID != f.WorldID {
			continue
		}
		if f.ActionPrefix != "" && !strings.HasPrefix(string(e.Action), f.ActionPrefix) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestLog_AppendAssignsIDAndTime(t *testing.T) {
	repo := &sliceRepo{}
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	log := NewLog(repo, WithClock(func() time.Time { return fixed }))

	before := testutil.ToFloat64(appendsCounter.WithLabelValues(string(ActionUserBanned)))
	id, err := log.Append(context.Background(), Entry{
		ActorID: "admin",
		WorldID: "w1",
		Action:  ActionUserBanned,
		Payload: Payload{Object: "u2", Old: "none", New: "banned"},
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, id, repo.entries[0].ID)
	assert.Equal(t, fixed, repo.entries[0].Timestamp)
	assert.Equal(t, before+1, testutil.ToFloat64(appendsCounter.WithLabelValues(string(ActionUserBanned))))
}

func TestLog_AppendRejectsMalformedEntries(t *testing.T) {
	log := NewLog(&sliceRepo{})
	tests := []struct {
		name  string
		entry Entry
	}{
		{"no world", Entry{Action: ActionWorldCreated}},
		{"no action", Entry{WorldID: "w1"}},
		{"undotted action", Entry{WorldID: "w1", Action: "banned"}},
		{"uppercase action", Entry{WorldID: "w1", Action: "Auth.User"}},
		{"trailing dot", Entry{WorldID: "w1", Action: "auth."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := log.Append(context.Background(), tt.entry)
			errutil.AssertErrorCode(t, err, "INVALID_AUDIT_ENTRY")
		})
	}
}

func TestLog_QueryPagesLazily(t *testing.T) {
	repo := &sliceRepo{}
	log := NewLog(repo, WithPageSize(2))
	ctx := context.Background()
	for range 5 {
		_, err := log.Append(ctx, Entry{WorldID: "w1", Action: ActionWorldGrantAdded})
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, Entry{WorldID: "w2", Action: ActionWorldGrantAdded})
	require.NoError(t, err)

	all, err := log.Collect(ctx, Filter{WorldID: "w1"})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 3, repo.queries, "two full pages and a short one")
	for i := 1; i < len(all); i++ {
		assert.Negative(t, all[i-1].ID.Compare(all[i].ID), "entries arrive in creation order")
	}

	repo.queries = 0
	for range log.Query(ctx, Filter{WorldID: "w1"}) {
		break
	}
	assert.Equal(t, 1, repo.queries, "stopping early fetches no further pages")
}

func TestLog_QueryLimit(t *testing.T) {
	repo := &sliceRepo{}
	log := NewLog(repo, WithPageSize(10))
	ctx := context.Background()
	for range 4 {
		_, err := log.Append(ctx, Entry{WorldID: "w1", Action: ActionUserSilenced})
		require.NoError(t, err)
	}
	got, err := log.Collect(ctx, Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestLog_QueryError(t *testing.T) {
	log := NewLog(&sliceRepo{queryErr: errors.New("connection reset")})
	_, err := log.Collect(context.Background(), Filter{})
	errutil.AssertErrorCode(t, err, "AUDIT_QUERY_FAILED")
}

func TestLog_EntriesAreImmutable(t *testing.T) {
	log := NewLog(&sliceRepo{})
	id := ulid.Make()

	err := log.Delete(context.Background(), id)
	require.ErrorIs(t, err, ErrAuditImmutable)
	assert.Equal(t, "logs cannot be deleted", ErrAuditImmutable.Error())
	errutil.AssertErrorCode(t, err, "AUDIT_IMMUTABLE")
	errutil.AssertErrorContext(t, err, "entry_id", id.String())

	err = log.Update(context.Background(), Entry{ID: id})
	require.ErrorIs(t, err, ErrAuditImmutable)
}
