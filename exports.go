package swcache

import "github.com/cryguy/swcache/internal/core"

// Type aliases re-exporting internal/core types so callers can use
// swcache.Request, swcache.CacheStorage, etc. without importing the
// internal package directly.

type Request = core.Request
type Response = core.Response
type Fetcher = core.Fetcher
type CacheStorage = core.CacheStorage
type Cache = core.Cache
type Entry = core.Entry

var (
	ErrMethodNotCacheable = core.ErrMethodNotCacheable
	ErrBadResponse        = core.ErrBadResponse
	ErrInvalidConfig      = core.ErrInvalidConfig
	ErrResponseTooLarge   = core.ErrResponseTooLarge
)

// NewRequest builds a GET request for rawURL.
func NewRequest(rawURL string) *Request { return core.NewRequest(rawURL) }
