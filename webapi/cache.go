package webapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/medcat/steam-mist/cacher"
)

// CacheMode decides how a cached response is used.
type CacheMode int

const (
	// ModeHTTP always asks the API, sending If-Modified-Since when a cached
	// response exists, and reuses the cached data on 304 Not Modified.
	ModeHTTP CacheMode = iota
	// ModeFile answers from the cache whenever it holds the request and only
	// asks the API on a miss.
	ModeFile
)

func (m CacheMode) String() string {
	switch m {
	case ModeHTTP:
		return "http"
	case ModeFile:
		return "file"
	default:
		return fmt.Sprintf("CacheMode(%d)", int(m))
	}
}

// ParseCacheMode accepts "http" or "file" in any case; "" is ModeHTTP.
func ParseCacheMode(s string) (CacheMode, error) {
	switch strings.ToLower(s) {
	case "", "http":
		return ModeHTTP, nil
	case "file":
		return ModeFile, nil
	default:
		return ModeHTTP, fmt.Errorf("webapi: unknown cache mode %q", s)
	}
}

// Entry is a cached response, keyed by the request URL.
type Entry struct {
	Data         map[string]any `json:"data"`
	LastModified time.Time      `json:"last_modified"`
}

// CachePolicy tells a Connector where to keep responses and how to use
// them.
type CachePolicy struct {
	Store cacher.Cacher[Entry]
	Mode  CacheMode

	// TTL is passed to the store on every write; 0 keeps entries until they
	// are replaced.
	TTL time.Duration
}
