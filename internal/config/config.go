// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads worldgate's configuration.
//
// Values are layered: built-in defaults, then the YAML config file, then
// command-line flags. DATABASE_URL and REDIS_URL override the file when the
// matching flag was not given.
package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/internal/cache"
	"github.com/holomush/worldgate/internal/identity"
	"github.com/holomush/worldgate/internal/logging"
	"github.com/holomush/worldgate/internal/xdg"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Grant cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Cross-node invalidation transports.
const (
	InvalidationPostgres = "postgres"
	InvalidationRedis    = "redis"
	InvalidationNone     = "none"
)

// Config is the complete worldgate configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Store    StoreConfig    `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Resolver ResolverConfig `koanf:"resolver"`
	Cache    CacheConfig    `koanf:"cache"`
	API      APIConfig      `koanf:"api"`
	Identity IdentityConfig `koanf:"identity"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the metrics and health listener. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects the storage driver.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// RedisConfig configures the shared grant cache and invalidation channel.
type RedisConfig struct {
	URL string        `koanf:"url"`
	TTL time.Duration `koanf:"ttl"`
}

// ResolverConfig configures permission evaluation.
type ResolverConfig struct {
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
}

// CacheConfig configures the config and grant caches.
type CacheConfig struct {
	Backend      string        `koanf:"backend"`
	Invalidation string        `koanf:"invalidation"`
	LoadTimeout  time.Duration `koanf:"load_timeout"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	RateLimit int `koanf:"rate_limit"`
}

// IdentityConfig lists the token issuers each world accepts.
type IdentityConfig struct {
	Worlds map[string][]identity.Secret `koanf:"worlds"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Log:      LogConfig{Format: logging.FormatJSON, Level: "info"},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:8080"},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Store:    StoreConfig{Driver: StorePostgres},
		Redis:    RedisConfig{TTL: cache.DefaultRedisTTL},
		Resolver: ResolverConfig{LookupTimeout: access.DefaultLookupTimeout},
		Cache: CacheConfig{
			Backend:      CacheMemory,
			Invalidation: InvalidationPostgres,
			LoadTimeout:  cache.DefaultLoadTimeout,
		},
		API: APIConfig{RateLimit: 600},
	}
}

// flagKeys maps command-line flags onto configuration keys. Flags missing
// from the map are not configuration.
var flagKeys = map[string]string{
	"log-format":     "log.format",
	"log-level":      "log.level",
	"http-addr":      "http.addr",
	"metrics-addr":   "metrics.addr",
	"store":          "store.driver",
	"database-url":   "database.url",
	"auto-migrate":   "database.auto_migrate",
	"redis-url":      "redis.url",
	"cache-backend":  "cache.backend",
	"invalidation":   "cache.invalidation",
	"lookup-timeout": "resolver.lookup_timeout",
	"rate-limit":     "api.rate_limit",
}

// BindFlags registers the configuration flags on fs with the built-in defaults.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("store", d.Store.Driver, "storage driver (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.Bool("auto-migrate", false, "apply pending migrations at startup")
	fs.String("redis-url", "", "Redis URL (default: $REDIS_URL)")
	fs.String("cache-backend", d.Cache.Backend, "grant cache backend (memory or redis)")
	fs.String("invalidation", d.Cache.Invalidation, "cross-node invalidation (postgres, redis or none)")
	fs.Duration("lookup-timeout", d.Resolver.LookupTimeout, "bound on each resolver lookup")
	fs.Int("rate-limit", d.API.RateLimit, "API requests per minute per client IP (negative = unlimited)")
}

// Load reads the configuration. An empty path reads the default XDG config
// file when it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, oops.In("config").Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" && !changed(flags, "database-url") {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" && !changed(flags, "redis-url") {
		cfg.Redis.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Changed(name)
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.In("config").Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf("%s", msg)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "log.level must be debug, info, warn or error")
	}
	if !slices.Contains([]string{logging.FormatJSON, logging.FormatText}, c.Log.Format) {
		return invalid("log.format", c.Log.Format, "log.format must be 'json' or 'text'")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", c.HTTP.Addr, "http.addr is required")
	}
	switch c.Store.Driver {
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "", "database.url or DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
		if c.Cache.Invalidation == InvalidationPostgres {
			return invalid("cache.invalidation", c.Cache.Invalidation, "postgres invalidation needs the postgres store")
		}
	default:
		return invalid("store.driver", c.Store.Driver, "store.driver must be 'postgres' or 'memory'")
	}
	if !slices.Contains([]string{CacheMemory, CacheRedis}, c.Cache.Backend) {
		return invalid("cache.backend", c.Cache.Backend, "cache.backend must be 'memory' or 'redis'")
	}
	if !slices.Contains([]string{InvalidationPostgres, InvalidationRedis, InvalidationNone}, c.Cache.Invalidation) {
		return invalid("cache.invalidation", c.Cache.Invalidation, "cache.invalidation must be 'postgres', 'redis' or 'none'")
	}
	if c.NeedsRedis() && c.Redis.URL == "" {
		return invalid("redis.url", "", "redis.url or REDIS_URL is required when redis is used")
	}
	if c.Resolver.LookupTimeout <= 0 {
		return invalid("resolver.lookup_timeout", c.Resolver.LookupTimeout, "resolver.lookup_timeout must be positive")
	}
	for worldID, secrets := range c.Identity.Worlds {
		for _, s := range secrets {
			if s.Secret == "" {
				return invalid("identity.worlds."+worldID, "", "identity secrets cannot be empty")
			}
		}
	}
	return nil
}

// NeedsRedis reports whether any component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == CacheRedis || c.Cache.Invalidation == InvalidationRedis
}
