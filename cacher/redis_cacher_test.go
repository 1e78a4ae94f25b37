package cacher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCacher_namespace(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "foreign", "x", 0).Err())

	c := NewRedisCacher[response](client, "steammist:")
	require.NoError(t, c.Set(ctx, "ISteamNews/1", sample("news"), 0))
	require.NoError(t, c.Set(ctx, "ISteamUser/1", sample("user"), time.Minute))

	assert.True(t, mr.Exists("steammist:ISteamNews/1"))
	assert.Equal(t, time.Minute, mr.TTL("steammist:ISteamUser/1"))

	got, found, err := c.Get(ctx, "ISteamNews/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "news", got.Data["value"])

	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.DeleteByPrefix(ctx, "ISteamUser/")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Clear(ctx))
	n, err = c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, mr.Exists("foreign"), "clear stays inside the namespace")
}

func TestRedisCacher_GetOrFetch(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	c := NewRedisCacher[string](client, "ns:")

	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "fetched", nil
	}

	var wg sync.WaitGroup
	for j := 0; j < 4; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "fetched", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, mr.Exists("ns:k"+redisLockSuffix), "the lock is released")

	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisCacher_fetch_error(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	c := NewRedisCacher[string](client, "ns:")

	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("ns:k"))
	assert.False(t, mr.Exists("ns:k"+redisLockSuffix))
}

func TestRedisCacher_corrupt_value(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("ns:k", "{not json"))

	_, _, err := NewRedisCacher[response](client, "ns:").Get(context.Background(), "k")
	assert.Error(t, err)
}
