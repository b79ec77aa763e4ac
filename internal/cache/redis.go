// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Redis defaults.
const (
	// DefaultRedisTTL bounds the life of a cached entry and of its version.
	DefaultRedisTTL = time.Hour
	// DefaultRedisPrefix namespaces every entry the cache writes.
	DefaultRedisPrefix = "worldgate:grant:"
	// RedisChannel carries change notices between nodes.
	RedisChannel = "worldgate:changes"

	keySeparator = "\n"
	scanBatch    = 500

	// Versions live outside DefaultRedisPrefix so Flush keeps them.
	versionPrefix = "worldgate:grantver:"
	epochKey      = "worldgate:grantepoch"
)

// A version is "<epoch>:<key version>". Flush advances the epoch and Delete
// advances the key version, each before the entry is removed.
var (
	versionScript = redis.NewScript(`
local e = redis.call('GET', KEYS[1]) or '0'
local v = redis.call('GET', KEYS[2]) or '0'
return e .. ':' .. v
`)

	setIfVersionScript = redis.NewScript(`
local e = redis.call('GET', KEYS[1]) or '0'
local v = redis.call('GET', KEYS[2]) or '0'
if e .. ':' .. v ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
return 1
`)

	// KEYS holds n entry keys followed by their n version keys.
	deleteScript = redis.NewScript(`
local n = #KEYS / 2
for i = 1, n do
  redis.call('INCR', KEYS[n + i])
  redis.call('PEXPIRE', KEYS[n + i], ARGV[1])
  redis.call('DEL', KEYS[i])
end
return n
`)
)

// NewRedisClient connects to the Redis server at url and checks it answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

// RedisBackend is a Backend shared by every node through Redis. Versions
// are kept in Redis and compared inside scripts, so a node that loaded
// before another node's invalidation cannot write its stale value back.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisBackend creates a backend writing entries with the given TTL.
// Non-positive TTLs use DefaultRedisTTL.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisBackend{client: client, ttl: ttl, prefix: DefaultRedisPrefix}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oops.Code("CACHE_GET_FAILED").With("key", key).Wrap(err)
	}
	return raw, true, nil
}

// Version implements Backend.
func (b *RedisBackend) Version(ctx context.Context, key string) (string, error) {
	version, err := versionScript.Run(ctx, b.client, []string{epochKey, versionPrefix + key}).Text()
	if err != nil {
		return "", oops.Code("CACHE_VERSION_FAILED").With("key", key).Wrap(err)
	}
	return version, nil
}

// SetIfVersion implements Backend.
func (b *RedisBackend) SetIfVersion(ctx context.Context, key, version string, value []byte) (bool, error) {
	stored, err := setIfVersionScript.Run(ctx, b.client,
		[]string{epochKey, versionPrefix + key, b.prefix + key},
		version, value, b.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, oops.Code("CACHE_SET_FAILED").With("key", key).Wrap(err)
	}
	return stored == 1, nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 2*len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
		full[len(keys)+i] = versionPrefix + k
	}
	if err := deleteScript.Run(ctx, b.client, full, b.ttl.Milliseconds()).Err(); err != nil {
		return oops.Code("CACHE_DELETE_FAILED").With("keys", keys).Wrap(err)
	}
	return nil
}

// Flush implements Backend by advancing the epoch, then deleting every key
// under the prefix.
func (b *RedisBackend) Flush(ctx context.Context) error {
	if err := b.client.Incr(ctx, epochKey).Err(); err != nil {
		return oops.Code("CACHE_FLUSH_FAILED").Wrap(err)
	}
	iter := b.client.Scan(ctx, 0, b.prefix+"*", scanBatch).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return oops.Code("CACHE_FLUSH_FAILED").Wrap(err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return oops.Code("CACHE_FLUSH_FAILED").Wrap(err)
	}
	if len(batch) > 0 {
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return oops.Code("CACHE_FLUSH_FAILED").Wrap(err)
		}
	}
	return nil
}

// RedisPublisher publishes change notices on RedisChannel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := p.client.Publish(ctx, RedisChannel, strings.Join(keys, keySeparator)).Err(); err != nil {
		return oops.Code("CACHE_PUBLISH_FAILED").With("channel", RedisChannel).Wrap(err)
	}
	return nil
}

// RedisSubscriber passes change notices published on RedisChannel to a handler.
type RedisSubscriber struct {
	client  *redis.Client
	handler func(keys []string)
	logger  *slog.Logger
}

// NewRedisSubscriber creates a subscriber.
func NewRedisSubscriber(client *redis.Client, handler func(keys []string), logger *slog.Logger) *RedisSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{client: client, handler: handler, logger: logger}
}

// Run subscribes and dispatches notices until ctx is cancelled. The handler
// first receives nil, since notices published before the subscription
// started were missed.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, RedisChannel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Debug("closing change subscription", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return oops.Code("CACHE_SUBSCRIBE_FAILED").With("channel", RedisChannel).Wrap(err)
	}
	s.logger.Debug("listening for cache changes", "channel", RedisChannel)
	s.handler(nil)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == "" {
				continue
			}
			s.handler(strings.Split(msg.Payload, keySeparator))
		}
	}
}

// Compile-time interface checks.
var (
	_ Backend   = (*RedisBackend)(nil)
	_ Publisher = (*RedisPublisher)(nil)
)
