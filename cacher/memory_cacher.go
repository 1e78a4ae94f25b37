package cacher

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps values in process memory using go-cache. Concurrent
// misses for one key are collapsed with singleflight.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache. Entries stored with ttl 0 live
// for defaultExpiration (cache.NoExpiration keeps them); expired entries are
// swept every cleanupInterval.
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) Cacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

// Get returns the value stored under key. A value of another type counts as
// a miss.
func (c *MemoryCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := checkContext(ctx); err != nil {
		return zero, false, err
	}

	val, found := c.cache.Get(key)
	if !found {
		return zero, false, nil
	}

	typed, ok := val.(T)
	if !ok {
		return zero, false, nil
	}

	return typed, true, nil
}

// Set stores value under key for ttl; 0 uses the default expiration.
func (c *MemoryCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.cache.Set(key, value, ttl)
	return nil
}

// GetOrFetch returns the cached value for key or stores the result of
// fetchFn. Concurrent misses for one key share a single fetch.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	return fetchThrough[T](ctx, &c.group, c, key, ttl, fetchFn)
}

// Delete removes a key from the cache.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// Clear removes all items from the cache.
func (c *MemoryCacher[T]) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.cache.Flush()
	return nil
}

// ItemCount returns the number of items in the cache, expired ones included
// until the next cleanup.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

// DeleteByPrefix deletes all keys with the given prefix.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	deleted := 0
	for key := range c.cache.Items() {
		if err := checkContext(ctx); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// Close is a no-op; the janitor goroutine stops when the cache is collected.
func (c *MemoryCacher[T]) Close() error {
	return nil
}
