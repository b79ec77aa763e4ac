// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/worldgate/internal/access"
	"github.com/holomush/worldgate/pkg/errutil"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBackend_GetSetDelete(t *testing.T) {
	mr, client := newRedis(t)
	b := NewRedisBackend(client, 10*time.Minute)
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "wg:w1:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := b.Version(ctx, "wg:w1:u1")
	require.NoError(t, err)
	assert.Equal(t, "0:0", version)
	stored, err := b.SetIfVersion(ctx, "wg:w1:u1", version, []byte(`["speaker"]`))
	require.NoError(t, err)
	assert.True(t, stored)
	raw, ok, err := b.Get(ctx, "wg:w1:u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `["speaker"]`, string(raw))
	assert.Equal(t, 10*time.Minute, mr.TTL(DefaultRedisPrefix+"wg:w1:u1"))

	require.NoError(t, b.Delete(ctx, "wg:w1:u1", "mod:w1:u1"))
	assert.False(t, mr.Exists(DefaultRedisPrefix+"wg:w1:u1"))

	stored, err = b.SetIfVersion(ctx, "wg:w1:u1", version, []byte(`["speaker"]`))
	require.NoError(t, err)
	assert.False(t, stored, "a fill started before the delete is dropped")
	assert.False(t, mr.Exists(DefaultRedisPrefix+"wg:w1:u1"))

	version, err = b.Version(ctx, "wg:w1:u1")
	require.NoError(t, err)
	assert.Equal(t, "0:1", version)
	assert.Equal(t, 10*time.Minute, mr.TTL(versionPrefix+"wg:w1:u1"))
}

func TestRedisBackend_FlushKeepsForeignKeys(t *testing.T) {
	mr, client := newRedis(t)
	b := NewRedisBackend(client, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set("session:abc", "other service"))
	version, err := b.Version(ctx, "mod:w1:u1")
	require.NoError(t, err)
	for _, k := range []string{"wg:w1:u1", "rg:r1:u1", "mod:w1:u1"} {
		stored, err := b.SetIfVersion(ctx, k, version, []byte(`null`))
		require.NoError(t, err)
		require.True(t, stored)
	}
	assert.Equal(t, DefaultRedisTTL, mr.TTL(DefaultRedisPrefix+"rg:r1:u1"))

	require.NoError(t, b.Flush(ctx))
	assert.ElementsMatch(t, []string{"session:abc", epochKey}, mr.Keys())

	stored, err := b.SetIfVersion(ctx, "mod:w1:u1", version, []byte(`null`))
	require.NoError(t, err)
	assert.False(t, stored, "fills started before a flush are dropped")
}

func TestRedisBackend_ClosedClient(t *testing.T) {
	_, client := newRedis(t)
	b := NewRedisBackend(client, 0)
	require.NoError(t, client.Close())

	_, _, err := b.Get(context.Background(), "wg:w1:u1")
	errutil.AssertErrorCode(t, err, "CACHE_GET_FAILED")
}

func TestGrantCache_SharedThroughRedis(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	grantsA := &stubGrants{worldRoles: []string{"speaker"}}
	nodeA := NewGrantCache(grantsA, &stubUsers{}, NewRedisBackend(client, 0), nil)
	grantsB := &stubGrants{worldRoles: []string{"speaker"}}
	nodeB := NewGrantCache(grantsB, &stubUsers{state: access.ModerationNone}, NewRedisBackend(client, 0), nil)

	_, err := nodeA.WorldRoles(ctx, "w1", "u1")
	require.NoError(t, err)
	roles, err := nodeB.WorldRoles(ctx, "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"speaker"}, roles)
	assert.Equal(t, int32(0), grantsB.calls.Load(), "node B reads node A's entry")

	grantsB.worldRoles = nil
	nodeA.Invalidate(ctx, WorldRolesKey("w1", "u1"))
	roles, err = nodeB.WorldRoles(ctx, "w1", "u1")
	require.NoError(t, err)
	assert.Empty(t, roles, "an invalidation on one node is seen by every node")
}

func TestGrantCache_BanCommittedOnOtherNodeDuringLookup(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	usersA := &stubUsers{state: access.ModerationNone}
	nodeA := NewGrantCache(&stubGrants{}, usersA, NewRedisBackend(client, 0), nil)
	usersB := &stubUsers{state: access.ModerationBanned}
	nodeB := NewGrantCache(&stubGrants{}, usersB, NewRedisBackend(client, 0), nil)

	// Node A has read "none" when node B commits the ban and invalidates.
	usersA.during = func() { nodeB.Invalidate(ctx, ModerationKey("w1", "u1")) }

	state, err := nodeA.ModerationState(ctx, "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, access.ModerationNone, state)

	state, err = nodeB.ModerationState(ctx, "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, access.ModerationBanned, state, "node A's stale read was not written back")

	state, err = nodeA.ModerationState(ctx, "w1", "u1")
	require.NoError(t, err)
	assert.Equal(t, access.ModerationBanned, state, "node A now reads node B's entry")
	assert.Equal(t, int32(1), usersA.calls.Load())
}

func TestRedisBackend_VersionOnClosedClient(t *testing.T) {
	_, client := newRedis(t)
	b := NewRedisBackend(client, 0)
	require.NoError(t, client.Close())

	_, err := b.Version(context.Background(), "mod:w1:u1")
	errutil.AssertErrorCode(t, err, "CACHE_VERSION_FAILED")
}

func TestRedisPubSub_DeliversNotices(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []string, 4)
	sub := NewRedisSubscriber(client, func(keys []string) { received <- keys }, nil)
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case keys := <-received:
		assert.Nil(t, keys, "subscribing reports a full reset first")
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, WorldKey("w1"), WorldRolesKey("w1", "u1")))
	require.NoError(t, pub.Publish(ctx))

	select {
	case keys := <-received:
		assert.Equal(t, []string{"world:w1", "wg:w1:u1"}, keys)
	case <-time.After(5 * time.Second):
		t.Fatal("notice not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), "not a url")
	errutil.AssertErrorCode(t, err, "REDIS_CONFIG_INVALID")
}
