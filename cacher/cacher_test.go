package cacher

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Data         map[string]any `json:"data"`
	LastModified time.Time      `json:"last_modified"`
}

type backend struct {
	name string
	open func(t *testing.T) Cacher[response]
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Cacher[response] {
			return NewMemoryCacher[response](cache.NoExpiration, time.Minute)
		}},
		{"sqlite", func(t *testing.T) Cacher[response] {
			c, err := NewSQLiteCacher[response](filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Close() })
			return c
		}},
		{"file", func(t *testing.T) Cacher[response] {
			c, err := NewFileCacher[response](filepath.Join(t.TempDir(), "cache.json"))
			require.NoError(t, err)
			return c
		}},
	}
}

func sample(v string) response {
	return response{
		Data:         map[string]any{"value": v},
		LastModified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCacher_contract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing", func(t *testing.T) {
				c := b.open(t)
				_, found, err := c.Get(ctx, "nope")
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("set then get", func(t *testing.T) {
				c := b.open(t)
				require.NoError(t, c.Set(ctx, "http://a/1", sample("one"), 0))

				got, found, err := c.Get(ctx, "http://a/1")
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, "one", got.Data["value"])
				assert.True(t, got.LastModified.Equal(sample("one").LastModified))
			})

			t.Run("set replaces", func(t *testing.T) {
				c := b.open(t)
				require.NoError(t, c.Set(ctx, "k", sample("old"), 0))
				require.NoError(t, c.Set(ctx, "k", sample("new"), 0))

				got, _, err := c.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "new", got.Data["value"])

				n, err := c.ItemCount(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("get or fetch", func(t *testing.T) {
				c := b.open(t)
				calls := 0
				fetch := func(ctx context.Context) (response, error) {
					calls++
					return sample("fetched"), nil
				}

				first, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
				require.NoError(t, err)
				second, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
				require.NoError(t, err)

				assert.Equal(t, "fetched", first.Data["value"])
				assert.Equal(t, "fetched", second.Data["value"])
				assert.Equal(t, 1, calls)
			})

			t.Run("fetch error is not cached", func(t *testing.T) {
				c := b.open(t)
				_, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (response, error) {
					return response{}, assert.AnError
				})
				assert.ErrorIs(t, err, assert.AnError)

				_, found, err := c.Get(ctx, "k")
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("concurrent misses fetch once", func(t *testing.T) {
				c := b.open(t)
				var calls int32
				fetch := func(ctx context.Context) (response, error) {
					atomic.AddInt32(&calls, 1)
					time.Sleep(20 * time.Millisecond)
					return sample("shared"), nil
				}

				var wg sync.WaitGroup
				for j := 0; j < 8; j++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						v, err := c.GetOrFetch(ctx, "same", time.Minute, fetch)
						assert.NoError(t, err)
						assert.Equal(t, "shared", v.Data["value"])
					}()
				}
				wg.Wait()

				assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			})

			t.Run("delete and prefixes", func(t *testing.T) {
				c := b.open(t)
				for _, k := range []string{"ISteamUser/1", "ISteamUser/2", "ISteamNews/1"} {
					require.NoError(t, c.Set(ctx, k, sample(k), 0))
				}

				require.NoError(t, c.Delete(ctx, "ISteamNews/1"))
				require.NoError(t, c.Delete(ctx, "ISteamNews/1"), "deleting a missing key is fine")

				n, err := c.DeleteByPrefix(ctx, "ISteamUser/")
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				count, err := c.ItemCount(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, count)
			})

			t.Run("clear", func(t *testing.T) {
				c := b.open(t)
				require.NoError(t, c.Set(ctx, "a", sample("a"), 0))
				require.NoError(t, c.Set(ctx, "b", sample("b"), 0))

				require.NoError(t, c.Clear(ctx))

				count, err := c.ItemCount(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, count)
			})
		})
	}
}

func TestSQLiteCacher_expiry(t *testing.T) {
	c, err := NewSQLiteCacher[string](filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))

	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	now = now.Add(2 * time.Minute)

	_, found, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)

	n, err = c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteCacher_persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := NewSQLiteCacher[string](path)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", "kept", 0))
	require.NoError(t, c.Close())

	c, err = NewSQLiteCacher[string](path)
	require.NoError(t, err)
	defer c.Close()

	v, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "kept", v)
	assert.Equal(t, path, c.Path())
}

func TestSQLiteCacher_DeleteByPrefix_empty(t *testing.T) {
	c, err := NewSQLiteCacher[string](filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))

	n, err := c.DeleteByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
