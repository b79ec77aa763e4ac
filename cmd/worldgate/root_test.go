// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/config"
	"github.com/holomush/worldgate/pkg/errutil"
)

var memoryFlags = []string{"--store", "memory", "--invalidation", "none"}

// isolate keeps the developer's config file and environment out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
}

// sharedApp returns deps whose commands all run against one in-memory app.
func sharedApp(t *testing.T) (deps, *app) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = config.StoreMemory
	cfg.Cache.Invalidation = config.InvalidationNone
	a, err := newApp(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return deps{
		openApp: func(context.Context, *config.Config, *slog.Logger) (*app, error) { return a, nil },
	}, a
}

func run(t *testing.T, d deps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(d)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, memoryFlags...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, d deps, args ...string) string {
	t.Helper()
	out, err := run(t, d, args...)
	require.NoError(t, err, "worldgate %s", strings.Join(args, " "))
	return out
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "check", "permissions", "grant", "moderate", "world", "roles", "audit"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	isolate(t)
	d, _ := sharedApp(t)

	cmd := newRootCmd(d)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"world", "list"})
	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestCLI_GrantAndCheck(t *testing.T) {
	isolate(t)
	d, _ := sharedApp(t)

	mustRun(t, d, "world", "create", "w1", "--name", "Conference")
	mustRun(t, d, "world", "add-room", "r1", "--world", "w1", "--name", "Main Stage")
	mustRun(t, d, "world", "set-user", "boss", "--world", "w1", "--traits", "admin")
	mustRun(t, d, "world", "set-user", "guest", "--world", "w1", "--traits", "attendee")

	assert.Contains(t, mustRun(t, d, "world", "list"), "r1")
	assert.Equal(t, "allowed\n", mustRun(t, d, "check", "--world", "w1", "--user", "boss", "--permission", "world:update"))
	assert.Equal(t, "denied\n", mustRun(t, d, "check", "--world", "w1", "--user", "guest", "--permission", "world:update"))

	assert.Equal(t, "changed\n", mustRun(t, d, "grant", "add", "--world", "w1", "--user", "u1", "--role", "admin", "--actor", "boss"))
	assert.Equal(t, "unchanged\n", mustRun(t, d, "grant", "add", "--world", "w1", "--user", "u1", "--role", "admin", "--actor", "boss"))
	assert.Equal(t, "allowed\n", mustRun(t, d, "check", "--world", "w1", "--user", "u1", "--permission", "world:update"))
	assert.Contains(t, mustRun(t, d, "permissions", "--world", "w1", "--user", "u1"), "world:update")

	list := mustRun(t, d, "grant", "list", "--world", "w1", "--actor", "boss")
	assert.Contains(t, list, "u1")
	assert.Contains(t, list, "admin")

	_, err := run(t, d, "grant", "add", "--world", "w1", "--user", "u2", "--role", "admin", "--actor", "guest")
	require.ErrorIs(t, err, access.ErrPermissionDenied)

	assert.Equal(t, "changed\n", mustRun(t, d, "grant", "remove", "--world", "w1", "--user", "u1", "--role", "admin", "--actor", "boss"))
	assert.Equal(t, "denied\n", mustRun(t, d, "check", "--world", "w1", "--user", "u1", "--permission", "world:update"))
}

func TestCLI_RoomGrantInOtherWorld(t *testing.T) {
	isolate(t)
	d, _ := sharedApp(t)

	mustRun(t, d, "world", "create", "w1", "--name", "One")
	mustRun(t, d, "world", "create", "w2", "--name", "Two")
	mustRun(t, d, "world", "add-room", "r2", "--world", "w2", "--name", "Elsewhere")

	_, err := run(t, d, "grant", "add", "--world", "w1", "--room", "r2", "--user", "u1", "--role", "speaker")
	errutil.AssertErrorCode(t, err, "ROOM_NOT_FOUND")

	assert.Equal(t, "changed\n", mustRun(t, d, "grant", "add", "--world", "w2", "--room", "r2", "--user", "u1", "--role", "speaker"))
}

func TestCLI_ModerationAndAudit(t *testing.T) {
	isolate(t)
	d, _ := sharedApp(t)

	mustRun(t, d, "world", "create", "w1", "--name", "Conference")
	mustRun(t, d, "world", "set-user", "u1", "--world", "w1", "--traits", "attendee")

	assert.Equal(t, "changed\n", mustRun(t, d, "moderate", "silence", "--world", "w1", "--user", "u1"))
	assert.Equal(t, "changed\n", mustRun(t, d, "moderate", "ban", "--world", "w1", "--user", "u1"))
	assert.Equal(t, "unchanged\n", mustRun(t, d, "moderate", "silence", "--world", "w1", "--user", "u1"))
	assert.Equal(t, "banned\n", mustRun(t, d, "moderate", "show", "--world", "w1", "--user", "u1"))

	out := mustRun(t, d, "audit", "list", "--world", "w1", "--action", "auth.user.")
	assert.Contains(t, out, "auth.user.silenced")
	assert.Contains(t, out, "auth.user.banned")
	assert.NotContains(t, out, "world.created")
	assert.Contains(t, out, "system")
}

func TestCLI_RolesImportExport(t *testing.T) {
	isolate(t)
	d, _ := sharedApp(t)

	mustRun(t, d, "world", "create", "w1", "--name", "Conference")
	mustRun(t, d, "world", "add-room", "stage", "--world", "w1", "--name", "Stage")
	mustRun(t, d, "world", "set-user", "vip", "--world", "w1", "--traits", "staff,sponsor")

	doc := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(`world: w1
roles:
  host: ["world:*", "room:*"]
trait_grants:
  host: "staff, vip | sponsor"
rooms:
  stage:
    trait_grants:
      speaker: speaker
`), 0o600))

	assert.Contains(t, mustRun(t, d, "roles", "validate", doc), "ok (world w1, 1 room(s))")
	mustRun(t, d, "roles", "import", doc)
	assert.Equal(t, "allowed\n", mustRun(t, d, "check", "--world", "w1", "--user", "vip", "--permission", "world:update"))

	exported := mustRun(t, d, "roles", "export", "--world", "w1")
	assert.Contains(t, exported, "host:")
	assert.Contains(t, exported, "stage:")
}

func TestCLI_RolesValidateRejectsBadDocuments(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(doc, []byte("world: w1\nroles:\n  host: [\"world:nope\"]\n"), 0o600))

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"roles", "validate", doc})
	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "INVALID_ROLE_MAP")
	assert.Contains(t, err.Error(), "world:nope")
}

func TestCLI_RolesSchema(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"roles", "schema"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"trait_grants"`)
}

type fakeMigrator struct {
	pending []uint
	upCalls int
	closed  bool
}

func (m *fakeMigrator) Down() error                        { return nil }
func (m *fakeMigrator) Steps(int) error                    { return nil }
func (m *fakeMigrator) Version() (uint, bool, error)       { return 2, false, nil }
func (m *fakeMigrator) Force(int) error                    { return nil }
func (m *fakeMigrator) PendingMigrations() ([]uint, error) { return m.pending, nil }

func (m *fakeMigrator) Up() error {
	m.upCalls++
	return nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func TestMigrateCmd(t *testing.T) {
	isolate(t)
	fake := &fakeMigrator{pending: []uint{1, 2}}
	var gotURL string
	d := deps{openMigrator: func(url string) (migrationRunner, error) {
		gotURL = url
		return fake, nil
	}}

	exec := func(args ...string) (string, error) {
		cmd := newRootCmd(d)
		out := new(bytes.Buffer)
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := exec("migrate", "up", "--database-url", "postgres://localhost/worldgate")
	require.NoError(t, err)
	assert.Equal(t, "Applied 2 migration(s)\n", out)
	assert.Equal(t, "postgres://localhost/worldgate", gotURL)
	assert.Equal(t, 1, fake.upCalls)
	assert.True(t, fake.closed)

	_, err = exec("migrate", "down", "--database-url", "postgres://localhost/worldgate")
	errutil.AssertErrorCode(t, err, "CONFIRMATION_REQUIRED")

	_, err = exec("migrate", "steps", "0", "--database-url", "postgres://localhost/worldgate")
	errutil.AssertErrorCode(t, err, "INVALID_STEPS")

	_, err = exec("migrate", "up", "--store", "memory", "--invalidation", "none")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
