package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWindow(t *testing.T) (*RedisWindow, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWindow(client), mr
}

func TestRedisWindowAllowsUpToLimit(t *testing.T) {
	w, mr := setupWindow(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := w.Hit(ctx, "u1:send", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, i, res.Count)
	}

	res, err := w.Hit(ctx, "u1:send", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Count)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ResetAt, 5*time.Second)

	// rejected hits do not consume a slot
	val, err := mr.Get("ratelimit:u1:send")
	require.NoError(t, err)
	assert.Equal(t, "3", val)
}

func TestRedisWindowResetsAfterExpiry(t *testing.T) {
	w, mr := setupWindow(t)
	ctx := context.Background()

	_, err := w.Hit(ctx, "u1:send", 1, time.Minute)
	require.NoError(t, err)
	res, err := w.Hit(ctx, "u1:send", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	mr.FastForward(61 * time.Second)

	res, err = w.Hit(ctx, "u1:send", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisWindowKeysAreIndependent(t *testing.T) {
	w, _ := setupWindow(t)
	ctx := context.Background()

	_, err := w.Hit(ctx, "u1:send", 1, time.Minute)
	require.NoError(t, err)

	res, err := w.Hit(ctx, "u2:send", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisWindowRejectsBadInput(t *testing.T) {
	w, _ := setupWindow(t)

	_, err := w.Hit(context.Background(), "", 1, time.Minute)
	assert.Error(t, err)
	_, err = w.Hit(context.Background(), "k", 0, time.Minute)
	assert.Error(t, err)
}
