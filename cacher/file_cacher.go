package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FileCacher keeps every value in one JSON object on disk, keyed by cache
// key. The whole file is read on open and rewritten after each change; a
// change whose write fails is undone in memory as well.
//
// Entries never expire; the ttl passed to Set and GetOrFetch is ignored.
type FileCacher[T any] struct {
	mu      sync.RWMutex
	path    string
	entries map[string]T
	group   singleflight.Group
}

// NewFileCacher loads the cache stored at path. A missing file is an empty
// cache; it is created on the first write.
func NewFileCacher[T any](path string) (*FileCacher[T], error) {
	c := &FileCacher[T]{
		path:    path,
		entries: make(map[string]T),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cacher: read %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			return nil, fmt.Errorf("cacher: parse %s: %w", path, err)
		}
	}

	return c, nil
}

// Path returns the cache file.
func (c *FileCacher[T]) Path() string {
	return c.path
}

func (c *FileCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := checkContext(ctx); err != nil {
		return zero, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.entries[key]
	return val, ok, nil
}

func (c *FileCacher[T]) Set(ctx context.Context, key string, value T, _ time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.entries[key]
	c.entries[key] = value
	if err := c.save(); err != nil {
		if had {
			c.entries[key] = prev
		} else {
			delete(c.entries, key)
		}
		return err
	}

	return nil
}

func (c *FileCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	return fetchThrough[T](ctx, &c.group, c, key, ttl, fetchFn)
}

func (c *FileCacher[T]) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[key]
	if !ok {
		return nil
	}

	delete(c.entries, key)
	if err := c.save(); err != nil {
		c.entries[key] = prev
		return err
	}

	return nil
}

func (c *FileCacher[T]) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.entries
	c.entries = make(map[string]T)
	if err := c.save(); err != nil {
		c.entries = prev
		return err
	}

	return nil
}

func (c *FileCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries), nil
}

func (c *FileCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[string]T)
	for key, val := range c.entries {
		if strings.HasPrefix(key, prefix) {
			removed[key] = val
			delete(c.entries, key)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := c.save(); err != nil {
		maps.Copy(c.entries, removed)
		return 0, err
	}

	return len(removed), nil
}

// Close is a no-op; every change is already on disk.
func (c *FileCacher[T]) Close() error {
	return nil
}

// save writes the entries to a temporary file next to path and renames it
// into place. The caller holds c.mu.
func (c *FileCacher[T]) save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("cacher: marshal cache file: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cacher: create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cacher: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cacher: write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cacher: write cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("cacher: replace cache file: %w", err)
	}

	return nil
}

var _ Cacher[string] = (*FileCacher[string])(nil)
