package cacher

import (
	"context"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryCacher(t *testing.T) {
	c := NewMemoryCacher[string](time.Minute, 10*time.Minute)
	require.NotNil(t, c)

	mc, ok := c.(*MemoryCacher[string])
	require.True(t, ok)
	require.NotNil(t, mc.cache)
	assert.NoError(t, mc.Close())
}

func TestMemoryCacher_default_expiration(t *testing.T) {
	c := NewMemoryCacher[string](20*time.Millisecond, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 0))
	require.NoError(t, c.Set(ctx, "long", "v", cache.NoExpiration))

	assert.Eventually(t, func() bool {
		_, found, err := c.Get(ctx, "short")
		return err == nil && !found
	}, time.Second, 5*time.Millisecond)

	_, found, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryCacher_foreign_type_is_a_miss(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute).(*MemoryCacher[string])
	ctx := context.Background()
	c.cache.Set("k", 42, cache.NoExpiration)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "replaced", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "replaced", v)
}

func TestMemoryCacher_GetOrFetch_ContextCancelled(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	val, err := c.GetOrFetch(ctx, "key", time.Minute, func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, val)
}

func TestMemoryCacher_context_cancelled(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", "v", 0), context.Canceled)
	assert.ErrorIs(t, c.Delete(ctx, "k"), context.Canceled)
	assert.ErrorIs(t, c.Clear(ctx), context.Canceled)

	n, err := c.ItemCount(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)

	n, err = c.DeleteByPrefix(ctx, "any:")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestMemoryCacher_DeleteByPrefix_NoMatch(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "user:1", "v", 0))

	n, err := c.DeleteByPrefix(ctx, "other:")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, _ := c.ItemCount(ctx)
	assert.Equal(t, 1, count)
}

func TestMemoryCacher_Interface(t *testing.T) {
	var _ Cacher[string] = (*MemoryCacher[string])(nil)
}
