// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/store"
	"github.com/holomush/worldgate/internal/world"
	"github.com/holomush/worldgate/pkg/errutil"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock
}

var worldCols = []string{"id", "name", "roles", "trait_grants", "vocabulary_version", "created_at"}

func TestWorldRepository_Get(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, name, roles, trait_grants`).
					WithArgs("w1").
					WillReturnRows(pgxmock.NewRows(worldCols).AddRow(
						"w1", "Conference",
						[]byte(`{"speaker":["room:chat.*"]}`),
						[]byte(`{"attendee":["attendee"],"vip":[["vip","sponsor"]]}`),
						"1.1.0", now))
			},
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, name, roles, trait_grants`).
					WithArgs("w1").
					WillReturnRows(pgxmock.NewRows(worldCols))
			},
			wantCode: "WORLD_NOT_FOUND",
			wantErr:  world.ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, name, roles, trait_grants`).
					WithArgs("w1").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "WORLD_GET_FAILED",
			wantErr:  store.ErrStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewWorldRepository(mock).Get(context.Background(), "w1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Conference", got.Name)
			assert.True(t, got.Roles.Permissions("speaker").Has(access.RoomChatSend))
			assert.True(t, got.TraitGrants["vip"].Matches(access.NewTraitSet("sponsor"), true))
		})
	}
}

func TestWorldRepository_GetPinsVocabulary(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, roles, trait_grants`).
		WithArgs("w1").
		WillReturnRows(pgxmock.NewRows(worldCols).AddRow(
			"w1", "Conference", []byte(`{"host":["room:*"]}`), []byte(`{}`), "1.0.0", time.Now().UTC()))

	got, err := NewWorldRepository(mock).Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.VocabularyVersion)
	assert.True(t, got.Roles.Permissions("host").Has(access.RoomChatSend))
	assert.False(t, got.Roles.Permissions("host").Has(access.RoomPollVote))
}

func TestWorldRepository_GetRejectsUnknownVocabulary(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, roles, trait_grants`).
		WithArgs("w1").
		WillReturnRows(pgxmock.NewRows(worldCols).AddRow(
			"w1", "Conference", []byte(`{"host":["room:*"]}`), []byte(`{}`), "9.0.0", time.Now().UTC()))

	_, err := NewWorldRepository(mock).Get(context.Background(), "w1")
	errutil.AssertErrorCode(t, err, "UNSUPPORTED_VOCABULARY_VERSION")
	errutil.AssertErrorContext(t, err, "field", "vocabulary_version")
}

func TestWorldRepository_UpdateRolesStoresMapVersion(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE worlds SET roles`).
		WithArgs("w1", pgxmock.AnyArg(), "1.0.0").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	roles, err := access.NewRoleMapAt(map[string][]string{"host": {"room:*"}}, semver.MustParse("1.0.0"))
	require.NoError(t, err)
	require.NoError(t, NewWorldRepository(mock).UpdateRoles(context.Background(), "w1", roles))
}

func TestWorldRepository_CreateDuplicate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO worlds`).
		WithArgs("w1", "Conference", pgxmock.AnyArg(), pgxmock.AnyArg(), "1.1.0", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	w := world.NewWorld("w1", "Conference")
	err := NewWorldRepository(mock).Create(context.Background(), w)
	errutil.AssertErrorCode(t, err, "WORLD_EXISTS")
}

func TestWorldRepository_UpdateRolesMissing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE worlds SET roles`).
		WithArgs("w1", pgxmock.AnyArg(), access.VocabularyVersion.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewWorldRepository(mock).UpdateRoles(context.Background(), "w1", access.DefaultRoleMap())
	require.ErrorIs(t, err, world.ErrNotFound)
}

func TestRoomRepository_CreateUnknownWorld(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO rooms`).
		WithArgs("r1", "w404", "Main Stage", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

	err := NewRoomRepository(mock).Create(context.Background(), world.NewRoom("r1", "w404", "Main Stage"))
	require.ErrorIs(t, err, world.ErrNotFound)
	errutil.AssertErrorCode(t, err, "WORLD_NOT_FOUND")
}

func TestRoomRepository_Get(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, world_id, name, trait_grants`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "world_id", "name", "trait_grants", "created_at"}).
			AddRow("r1", "w1", "Main Stage", []byte(`{"viewer":[]}`), time.Now()))

	room, err := NewRoomRepository(mock).Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "w1", room.WorldID)
	assert.Equal(t, access.DefaultRoomTraitGrants(), room.TraitGrants)
}

func TestUserRepository_ModerationState(t *testing.T) {
	tests := []struct {
		name string
		rows *pgxmock.Rows
		want access.ModerationState
	}{
		{"unknown user", pgxmock.NewRows([]string{"moderation", "deleted"}), access.ModerationNone},
		{"silenced", pgxmock.NewRows([]string{"moderation", "deleted"}).AddRow("silenced", false), access.ModerationSilenced},
		{"deleted reads as banned", pgxmock.NewRows([]string{"moderation", "deleted"}).AddRow("", true), access.ModerationBanned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(`SELECT moderation, deleted FROM users`).
				WithArgs("w1", "u1").
				WillReturnRows(tt.rows)

			got, err := NewUserRepository(mock).ModerationState(context.Background(), "w1", "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserRepository_GetForUpdateLocks(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("w1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "world_id", "user_type", "traits", "moderation", "deleted", "created_at"}).
			AddRow("u1", "w1", "person", []string{"attendee"}, "banned", false, time.Now()))

	u, err := NewUserRepository(mock).GetForUpdate(context.Background(), "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, access.ModerationBanned, u.Moderation)
	assert.Equal(t, []string{"attendee"}, u.Traits)
}

func TestUserRepository_SetModerationMissing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE users SET moderation`).
		WithArgs("w1", "u1", "banned").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewUserRepository(mock).SetModeration(context.Background(), "w1", "u1", access.ModerationBanned)
	errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
}

func TestGrantRepository_AddReportsChange(t *testing.T) {
	g := world.WorldGrant{WorldID: "w1", UserID: "u1", Role: "speaker"}

	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO world_grants`).
		WithArgs("w1", "u1", "speaker").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO world_grants`).
		WithArgs("w1", "u1", "speaker").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewGrantRepository(mock)
	changed, err := repo.AddWorldGrant(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.AddWorldGrant(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, changed, "second add is a no-op")
}

func TestGrantRepository_AddRoomGrantUnknownRoom(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO room_grants`).
		WithArgs("r404", "w1", "u1", "speaker").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})

	_, err := NewGrantRepository(mock).AddRoomGrant(context.Background(),
		world.RoomGrant{WorldID: "w1", RoomID: "r404", UserID: "u1", Role: "speaker"})
	errutil.AssertErrorCode(t, err, "ROOM_NOT_FOUND")
}

func TestGrantRepository_WorldRoles(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT role FROM world_grants`).
		WithArgs("w1", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("moderator").AddRow("speaker"))

	roles, err := NewGrantRepository(mock).WorldRoles(context.Background(), "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator", "speaker"}, roles)
}

func TestGrantRepository_RemoveFailure(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM room_grants`).
		WithArgs("r1", "u1", "speaker").
		WillReturnError(errors.New("connection reset"))

	_, err := NewGrantRepository(mock).RemoveRoomGrant(context.Background(),
		world.RoomGrant{WorldID: "w1", RoomID: "r1", UserID: "u1", Role: "speaker"})
	require.ErrorIs(t, err, store.ErrStorageFailure)
	errutil.AssertErrorContext(t, err, "room_id", "r1")
}

func TestNotifier_NotifyChanged(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs(ChangeChannel, "world:w1\nwg:w1:u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, NewNotifier(mock).NotifyChanged(context.Background(), "world:w1", "wg:w1:u1"))
}

func TestChunkKeys(t *testing.T) {
	assert.Nil(t, chunkKeys(nil, 10))
	assert.Equal(t, []string{"a\nb", "c"}, chunkKeys([]string{"a", "b", "", "c"}, 3))

	long := strings.Repeat("k", 60)
	chunks := chunkKeys([]string{long, long, long}, 130)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{long, long}, ParsePayload(chunks[0]))
	assert.Nil(t, ParsePayload(""))
}
