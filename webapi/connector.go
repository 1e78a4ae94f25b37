package webapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/medcat/steam-mist/logger"
)

// StatusError is returned for a response that is neither 2xx nor an
// expected 304.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webapi: GET %s: %s", e.URL, e.Status)
}

// Connector performs the request for one RequestURI and holds the decoded
// reply. It is safe for concurrent use.
type Connector struct {
	uri    RequestURI
	client *http.Client
	cache  *CachePolicy
	log    logger.Logger

	headerMu sync.RWMutex
	header   http.Header

	mu      sync.Mutex
	data    map[string]any
	fetched bool
}

// NewConnector creates a connector that has not requested yet. cache may be
// nil.
func NewConnector(uri RequestURI, client *http.Client, cache *CachePolicy, log logger.Logger) *Connector {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &Connector{
		uri:    uri,
		client: client,
		cache:  cache,
		log:    logger.OrNop(log).With(logger.Field{Key: "url", Value: uri.String()}),
		header: http.Header{},
	}
}

// RequestURI returns the request this connector performs.
func (c *Connector) RequestURI() RequestURI {
	return c.uri
}

// Header returns a copy of the extra headers sent with the request.
func (c *Connector) Header() http.Header {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()

	return c.header.Clone()
}

// SetHeader sets an extra request header. A change made while a request is
// in flight applies to the next Refresh.
func (c *Connector) SetHeader(key, value string) {
	c.headerMu.Lock()
	defer c.headerMu.Unlock()

	c.header.Set(key, value)
}

// Fetched reports whether data has been loaded.
func (c *Connector) Fetched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetched
}

// Data returns the decoded reply, loading it on first use.
func (c *Connector) Data(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetched {
		return c.data, nil
	}

	return c.refresh(ctx, false)
}

// Get returns the top-level value stored under key, loading the reply on
// first use. Steam replies usually nest everything under "response" or
// "result".
func (c *Connector) Get(ctx context.Context, key string) (any, error) {
	data, err := c.Data(ctx)
	if err != nil {
		return nil, err
	}

	return data[key], nil
}

// Refresh loads the reply again. With a cache, force skips the cached copy
// and the If-Modified-Since header so the API is always asked for a full
// reply.
func (c *Connector) Refresh(ctx context.Context, force bool) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refresh(ctx, force)
}

func (c *Connector) refresh(ctx context.Context, force bool) (map[string]any, error) {
	data, err := c.load(ctx, force)
	if err != nil {
		return nil, err
	}

	c.data = data
	c.fetched = true
	return data, nil
}

func (c *Connector) load(ctx context.Context, force bool) (map[string]any, error) {
	if c.cache == nil || c.cache.Store == nil {
		data, _, _, err := c.request(ctx, time.Time{})
		return data, err
	}

	if c.cache.Mode == ModeFile && !force {
		return c.loadOnce(ctx)
	}

	key := c.uri.String()
	var entry Entry
	var since time.Time
	if !force {
		cached, found, err := c.cache.Store.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to a plain request.
			c.log.Warn("cache read failed", logger.Field{Key: "error", Value: err.Error()})
		} else if found {
			entry, since = cached, cached.LastModified
		}
	}

	data, modified, notModified, err := c.request(ctx, since)
	if err != nil {
		return nil, err
	}
	if notModified {
		c.log.Debug("not modified, using cache", logger.Field{Key: "last_modified", Value: since.Format(http.TimeFormat)})
		return entry.Data, nil
	}

	if err := c.cache.Store.Set(ctx, key, Entry{Data: data, LastModified: modified}, c.cache.TTL); err != nil {
		c.log.Warn("cache write failed", logger.Field{Key: "error", Value: err.Error()})
	}

	return data, nil
}

// fetchError marks an error from the request itself, as opposed to one from
// the cache store, when it comes back through GetOrFetch.
type fetchError struct{ err error }

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// loadOnce answers from the cache, fetching on a miss. Concurrent misses for
// one URL share a single request through the store's GetOrFetch.
func (c *Connector) loadOnce(ctx context.Context) (map[string]any, error) {
	var fetched *Entry

	entry, err := c.cache.Store.GetOrFetch(ctx, c.uri.String(), c.cache.TTL, func(ctx context.Context) (Entry, error) {
		data, modified, _, err := c.request(ctx, time.Time{})
		if err != nil {
			return Entry{}, &fetchError{err: err}
		}

		fetched = &Entry{Data: data, LastModified: modified}
		return *fetched, nil
	})

	var fe *fetchError
	switch {
	case err == nil:
		if fetched == nil {
			c.log.Debug("answered from cache")
		}
		return entry.Data, nil
	case errors.As(err, &fe):
		return nil, fe.err
	case fetched != nil:
		c.log.Warn("cache write failed", logger.Field{Key: "error", Value: err.Error()})
		return fetched.Data, nil
	}

	// A broken cache degrades to a plain request.
	c.log.Warn("cache read failed", logger.Field{Key: "error", Value: err.Error()})
	data, _, _, err := c.request(ctx, time.Time{})
	return data, err
}

// request performs the GET. A non-zero since is sent as If-Modified-Since,
// and only then is a 304 accepted. modified is the reply's Last-Modified
// header, or the current time when it has none.
func (c *Connector) request(ctx context.Context, since time.Time) (data map[string]any, modified time.Time, notModified bool, err error) {
	url := c.uri.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("webapi: build request: %w", err)
	}
	c.headerMu.RLock()
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	c.headerMu.RUnlock()
	req.Header.Set("Accept", "application/json")
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error("request failed", logger.Field{Key: "error", Value: err.Error()})
		return nil, time.Time{}, false, fmt.Errorf("webapi: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	c.log.Debug("response received",
		logger.Field{Key: "status", Value: resp.StatusCode},
		logger.Field{Key: "elapsed_ms", Value: time.Since(start).Milliseconds()},
	)

	if resp.StatusCode == http.StatusNotModified && !since.IsZero() {
		return nil, time.Time{}, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, time.Time{}, false, &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
	}

	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("webapi: decode %s: %w", url, err)
	}

	modified = time.Now().UTC()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modified = t.UTC()
		}
	}

	return data, modified, false, nil
}
