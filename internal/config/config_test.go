// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/identity"
	"github.com/holomush/worldgate/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	fs.String("config", "", "not a configuration key")
	require.NoError(t, fs.Parse(args))
	return fs
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/worldgate")

	cfg, err := Load("", newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/worldgate", cfg.Database.URL)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, InvalidationPostgres, cfg.Cache.Invalidation)
	assert.Equal(t, 250*time.Millisecond, cfg.Resolver.LookupTimeout)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, 600, cfg.API.RateLimit)
}

func TestLoad_FileThenFlags(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
log:
  format: text
http:
  addr: 0.0.0.0:9000
database:
  url: postgres://file/worldgate
redis:
  url: redis://file:6379/0
  ttl: 10m
cache:
  backend: redis
  invalidation: redis
resolver:
  lookup_timeout: 100ms
identity:
  worlds:
    w1:
      - issuer: tickets
        audience: worldgate
        secret: s3cret
`)
	cfg, err := Load(path, newFlags(t, "--http-addr", "127.0.0.1:7000", "--lookup-timeout", "50ms"))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:7000", cfg.HTTP.Addr, "flags beat the file")
	assert.Equal(t, 50*time.Millisecond, cfg.Resolver.LookupTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their defaults")
	assert.Equal(t, []identity.Secret{{Issuer: "tickets", Audience: "worldgate", Secret: "s3cret"}}, cfg.Identity.Worlds["w1"])
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_EnvironmentOverridesFileButNotFlags(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "database:\n  url: postgres://file/db\n")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)

	cfg, err = Load(path, newFlags(t, "--database-url", "postgres://flag/db"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", cfg.Database.URL)
}

func TestLoad_MissingFiles(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), newFlags(t, "--store", "memory", "--invalidation", "none"))
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	cfg, err := Load("", newFlags(t, "--store", "memory", "--invalidation", "none"))
	require.NoError(t, err, "a missing default file is not an error")
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
}

func TestLoad_DefaultFileLocation(t *testing.T) {
	isolate(t)
	dir := os.Getenv("XDG_CONFIG_HOME")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "worldgate"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worldgate", "config.yaml"),
		[]byte("store:\n  driver: memory\ncache:\n  invalidation: none\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Database.URL = "postgres://localhost/db"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"no http addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"no database", func(c *Config) { c.Database.URL = "" }},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"memory store with postgres notices", func(c *Config) { c.Store.Driver = StoreMemory }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"unknown invalidation", func(c *Config) { c.Cache.Invalidation = "carrier-pigeon" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }},
		{"zero timeout", func(c *Config) { c.Resolver.LookupTimeout = 0 }},
		{"empty secret", func(c *Config) {
			c.Identity.Worlds = map[string][]identity.Secret{"w1": {{Issuer: "tickets"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			errutil.AssertErrorCode(t, c.Validate(), "CONFIG_INVALID")
		})
	}

	c := valid()
	require.NoError(t, c.Validate())
}
