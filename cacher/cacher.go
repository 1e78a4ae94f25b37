// Package cacher provides typed key/value caches with fetch-on-miss. The web
// API client stores responses in one keyed by request URL; the backends are
// in-memory, redis, sqlite and a single JSON file.
package cacher

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc is a function that fetches a value from the source when a cache miss occurs.
// It receives a context for cancellation and timeout control, and returns the value
// of type T or an error if the fetch operation fails.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher is an interface that defines methods for caching values with automatic
// fetching on cache misses. Implementations are safe for concurrent use and
// run a single fetch when several callers miss the same key at once.
//
// A ttl of 0 means the backend default: no expiry for redis, sqlite and file
// caches, the configured default expiration for the memory cache.
type Cacher[T any] interface {
	// Get returns the value stored under key and whether it was found.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// GetOrFetch retrieves a value from the cache, or fetches it using the provided
	// function if it's not cached. The fetched value is then stored in the cache
	// with the specified TTL for future requests.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key to retrieve or set
	//   - ttl: Time-to-live duration for the cached value
	//   - fetchFn: Function to fetch the value if not in cache
	//
	// Returns:
	//   - The cached or fetched value of type T
	//   - An error if retrieval or fetching fails
	GetOrFetch(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fetchFn FetchFunc[T],
	) (T, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all items from the cache.
	Clear(ctx context.Context) error

	// ItemCount returns the number of items in the cache.
	ItemCount(ctx context.Context) (int, error)

	// DeleteByPrefix deletes all keys with the given prefix and returns how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources held by the backend.
	Close() error
}

// fetchThrough implements GetOrFetch on top of Get and Set. Concurrent misses
// for the same key share one call to fetchFn.
func fetchThrough[T any](
	ctx context.Context,
	group *singleflight.Group,
	c Cacher[T],
	key string,
	ttl time.Duration,
	fetchFn FetchFunc[T],
) (T, error) {
	var zero T

	if val, found, err := c.Get(ctx, key); err != nil {
		return zero, err
	} else if found {
		return val, nil
	}

	val, err, _ := group.Do(key, func() (any, error) {
		// Another caller may have stored it while we waited.
		if cached, found, err := c.Get(ctx, key); err != nil {
			return zero, err
		} else if found {
			return cached, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		if err := c.Set(ctx, key, fetched, ttl); err != nil {
			return zero, err
		}

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, _ := val.(T)
	return typed, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
