package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPresenceRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConnectionManager_GraceWindow(t *testing.T) {
	var online, offline int32
	m := NewConnectionManager(nil, ConnectionManagerConfig{
		OfflineGracePeriod: 30 * time.Millisecond,
		OnUserOnline:       func(uint) { atomic.AddInt32(&online, 1) },
		OnUserOffline:      func(uint) { atomic.AddInt32(&offline, 1) },
	})
	defer m.Stop()
	ctx := context.Background()

	m.Register(ctx, 1)
	m.Register(ctx, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&online))

	m.Unregister(ctx, 1)
	assert.True(t, m.IsOnline(ctx, 1))

	// reconnect inside the grace window: no transition either way
	m.Unregister(ctx, 1)
	m.Register(ctx, 1)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&offline))
	assert.Equal(t, int32(1), atomic.LoadInt32(&online))

	m.Unregister(ctx, 1)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&offline) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsOnline(ctx, 1))
}

func TestConnectionManager_RedisMirror(t *testing.T) {
	mr, rdb := newPresenceRedis(t)
	m := NewConnectionManager(rdb, ConnectionManagerConfig{OfflineGracePeriod: 20 * time.Millisecond})
	defer m.Stop()
	ctx := context.Background()

	m.Register(ctx, 42)
	ok, err := mr.SIsMember(defaultPresenceOnlineSetKey, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(defaultPresenceLastSeenKeyNS+"42"))
	assert.Equal(t, defaultPresenceTTL, mr.TTL(defaultPresenceLastSeenKeyNS+"42"))
	assert.ElementsMatch(t, []uint{42}, m.OnlineUserIDs(ctx))

	m.Unregister(ctx, 42)
	assert.Eventually(t, func() bool {
		return !mr.Exists(defaultPresenceLastSeenKeyNS + "42")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsOnline(ctx, 42))
}

func TestConnectionManager_ReapOnce(t *testing.T) {
	mr, rdb := newPresenceRedis(t)
	var offline int32
	m := NewConnectionManager(rdb, ConnectionManagerConfig{
		OnUserOffline: func(uint) { atomic.AddInt32(&offline, 1) },
	})
	defer m.Stop()

	// stale member with no last-seen key
	_, err := mr.SAdd(defaultPresenceOnlineSetKey, "9999")
	require.NoError(t, err)

	m.reapOnce(context.Background())

	ok, _ := mr.SIsMember(defaultPresenceOnlineSetKey, "9999")
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&offline))
	assert.Empty(t, m.OnlineUserIDs(context.Background()))
}
