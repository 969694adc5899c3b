package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient returns a client for TEXSTREAM_TEST_REDIS or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEXSTREAM_TEST_REDIS")
	if addr == "" {
		t.Skip("TEXSTREAM_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestNewLease_Defaults(t *testing.T) {
	a := NewLease(nil, "k", "", 4*time.Second)
	b := NewLease(nil, "k", "", 4*time.Second)

	assert.Len(t, a.Holder(), 32)
	assert.NotEqual(t, a.Holder(), b.Holder())
	assert.Equal(t, 2*time.Second, a.RenewEvery())

	named := NewLease(nil, "k", "participant-1", time.Second)
	assert.Equal(t, "participant-1", named.Holder())
	assert.Equal(t, "k", named.Key())
}

func TestLease_Exclusive(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	key := "texstream:test:lease:" + generateLockValue()
	t.Cleanup(func() { client.Del(ctx, key) })

	first := NewLease(client, key, "first", 2*time.Second)
	second := NewLease(client, key, "second", 2*time.Second)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := second.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", owner)

	assert.NoError(t, first.Renew(ctx))
	assert.ErrorIs(t, second.Renew(ctx), ErrNotHeld)
	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)

	require.NoError(t, first.Release(ctx))
	owner, err = first.Owner(ctx)
	require.NoError(t, err)
	assert.Empty(t, owner)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
