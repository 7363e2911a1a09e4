package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return New(cli, ttl, zap.NewNop()), mr
}

func TestTrackerHeartbeat(t *testing.T) {
	ctx := context.Background()
	tr, mr := newTestTracker(t, 30*time.Second)

	t.Run("heartbeat marks the user online", func(t *testing.T) {
		require.NoError(t, tr.Heartbeat(ctx, 7))
		assert.True(t, tr.IsOnline(ctx, 7))

		ids, err := tr.OnlineIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, ids)
	})

	t.Run("repeated heartbeats are idempotent", func(t *testing.T) {
		require.NoError(t, tr.Heartbeat(ctx, 7))
		require.NoError(t, tr.Heartbeat(ctx, 7))
		ids, err := tr.OnlineIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("ttl expiry takes the user offline and prunes the set", func(t *testing.T) {
		require.NoError(t, tr.Heartbeat(ctx, 9))
		mr.FastForward(31 * time.Second)

		assert.False(t, tr.IsOnline(ctx, 9))
		ids, err := tr.OnlineIDs(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, int64(9))
		// the stale member was removed from the shared set itself
		raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer raw.Close()
		isMember, err := raw.SIsMember(ctx, onlineSetKey, "9").Result()
		require.NoError(t, err)
		assert.False(t, isMember)
	})

	t.Run("heartbeat within ttl keeps the user online", func(t *testing.T) {
		tr2, mr2 := newTestTracker(t, 30*time.Second)
		require.NoError(t, tr2.Heartbeat(ctx, 5))
		mr2.FastForward(20 * time.Second)
		require.NoError(t, tr2.Heartbeat(ctx, 5))
		mr2.FastForward(20 * time.Second)
		assert.True(t, tr2.IsOnline(ctx, 5))
	})
}

func TestTrackerOffline(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, 30*time.Second)

	require.NoError(t, tr.Heartbeat(ctx, 7))
	require.NoError(t, tr.Offline(ctx, 7))

	assert.False(t, tr.IsOnline(ctx, 7))
	ids, err := tr.OnlineIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTrackerKick(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, 30*time.Second)

	var kicked []int64
	tr.SetKicker(func(uid int64) { kicked = append(kicked, uid) })

	require.NoError(t, tr.Heartbeat(ctx, 7))
	require.NoError(t, tr.Kick(ctx, 7))

	assert.Equal(t, []int64{7}, kicked)
	assert.False(t, tr.IsOnline(ctx, 7))
}

func TestTrackerKickWithoutKicker(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, 30*time.Second)
	require.NoError(t, tr.Heartbeat(ctx, 7))
	assert.NoError(t, tr.Kick(ctx, 7), "kick without a wired kicker still clears presence")
	assert.False(t, tr.IsOnline(ctx, 7))
}
