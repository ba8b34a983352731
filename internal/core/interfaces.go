package core

import "context"

// Fetcher performs a network fetch: request in, response out.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// CacheStorage manages named cache buckets.
type CacheStorage interface {
	// Open returns the named bucket, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a bucket and everything in it. It reports whether the
	// bucket existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single bucket of request/response pairs.
type Cache interface {
	Name() string
	// Match returns the stored response for req, or nil when there is none.
	Match(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request, resp *Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, req *Request) (bool, error)
	// Keys lists the stored request URLs in insertion order.
	Keys(ctx context.Context) ([]string, error)
}

// Entry pairs a request with the response to store for it.
type Entry struct {
	Request  *Request
	Response *Response
}
