package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockSuffix = ":lock"
	redisLockTTL    = 30 * time.Second
)

const redisReleaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const redisExtendScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// redisCacher stores JSON encoded values in redis under a namespace prefix,
// so that several caches (or other data) can share one database. Misses are
// guarded by a lock key so only one process fetches a given value.
type redisCacher[T any] struct {
	client    *redis.Client
	namespace string
}

// NewRedisCacher creates a cacher whose keys all start with namespace. The
// client is owned by the caller and is not closed by Close.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	responses := NewRedisCacher[webapi.Entry](client, "steammist:")
func NewRedisCacher[T any](client *redis.Client, namespace string) Cacher[T] {
	return &redisCacher[T]{
		client:    client,
		namespace: namespace,
	}
}

func (c *redisCacher[T]) key(key string) string {
	return c.namespace + key
}

func (c *redisCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cacher: redis get %s: %w", key, err)
	}

	var result T
	if err := json.Unmarshal(val, &result); err != nil {
		return zero, false, fmt.Errorf("cacher: unmarshal cached value: %w", err)
	}

	return result, true, nil
}

func (c *redisCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cacher: marshal value: %w", err)
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cacher: redis set %s: %w", key, err)
	}

	return nil
}

// GetOrFetch retrieves a value from the cache, or fetches it using the provided
// function if it's not cached.
//
// On a miss the caller tries to take "<key>:lock" with SETNX. The holder
// fetches and stores the value, extending the lock while the fetch runs;
// everyone else polls until the value appears or the lock disappears.
func (c *redisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if val, found, err := c.Get(ctx, key); err != nil {
		return zero, err
	} else if found {
		return val, nil
	}

	lockKey := c.key(key) + redisLockSuffix
	lockValue := uuid.NewString()

	acquired, err := c.client.SetNX(ctx, lockKey, lockValue, redisLockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("cacher: acquire lock: %w", err)
	}

	if !acquired {
		return c.waitForCache(ctx, key, lockKey, redisLockTTL)
	}

	defer c.client.Eval(context.Background(), redisReleaseScript, []string{lockKey}, lockValue)

	extendCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.extendLock(extendCtx, lockKey, lockValue, redisLockTTL)

	result, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	if err := c.Set(context.Background(), key, result, ttl); err != nil {
		return zero, err
	}

	return result, nil
}

// extendLock pushes the lock expiry forward every ttl/3 for as long as ctx
// is live and this process still owns the lock.
func (c *redisCacher[T]) extendLock(ctx context.Context, lockKey, lockValue string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.client.Eval(ctx, redisExtendScript, []string{lockKey}, lockValue, ttl.Milliseconds())
		}
	}
}

// waitForCache polls with exponential backoff (10ms doubling to 500ms) until
// the value shows up, the lock is released without a value, ctx ends, or
// timeout passes.
func (c *redisCacher[T]) waitForCache(
	ctx context.Context,
	key string,
	lockKey string,
	timeout time.Duration,
) (T, error) {
	var zero T

	backoff := 10 * time.Millisecond
	maxBackoff := 500 * time.Millisecond
	deadline := time.Now().Add(timeout)

	for {
		if err := checkContext(ctx); err != nil {
			return zero, err
		}

		if time.Now().After(deadline) {
			return zero, fmt.Errorf("cacher: timeout waiting for %s", key)
		}

		if val, found, err := c.Get(ctx, key); err != nil {
			return zero, err
		} else if found {
			return val, nil
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("cacher: check lock: %w", err)
		}

		if exists == 0 {
			// The lock holder may have stored the value just before releasing.
			if val, found, err := c.Get(ctx, key); err == nil && found {
				return val, nil
			}
			return zero, fmt.Errorf("cacher: fetch for %s failed in another process", key)
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *redisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cacher: redis delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every key in the namespace. With an empty namespace that is
// the whole database.
func (c *redisCacher[T]) Clear(ctx context.Context) error {
	if c.namespace == "" {
		if err := c.client.FlushDB(ctx).Err(); err != nil {
			return fmt.Errorf("cacher: redis flush: %w", err)
		}
		return nil
	}

	_, err := c.DeleteByPrefix(ctx, "")
	return err
}

// ItemCount counts the values in the namespace; lock keys are not counted.
func (c *redisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx, "")
	if err != nil {
		return 0, err
	}

	n := 0
	for _, k := range keys {
		if !strings.HasSuffix(k, redisLockSuffix) {
			n++
		}
	}

	return n, nil
}

func (c *redisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cacher: redis delete: %w", err)
	}

	return int(deleted), nil
}

// scan lists the full redis keys under namespace+prefix using SCAN rather
// than KEYS.
func (c *redisCacher[T]) scan(ctx context.Context, prefix string) ([]string, error) {
	full := c.key(prefix)

	var keys []string
	iter := c.client.Scan(ctx, 0, full+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		// SCAN patterns treat [, ? and * specially; recheck the literal prefix.
		if k := iter.Val(); strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cacher: redis scan: %w", err)
	}

	return keys, nil
}

// Close leaves the client open; it belongs to the caller.
func (c *redisCacher[T]) Close() error {
	return nil
}
