package swcache

import (
	"context"
	"fmt"
	"sync"
)

// AddAll fetches every request and stores the responses in cache. Either all
// responses are stored or none: a network error or a non-OK status for any
// request fails the whole call before anything is written.
func AddAll(ctx context.Context, cache Cache, fetcher Fetcher, reqs []*Request) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		firstErr error
	)
	// The first failure cancels the remaining fetches.
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	entries := make([]Entry, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := fetcher.Fetch(fetchCtx, req)
			switch {
			case err != nil:
				fail(fmt.Errorf("fetching %s: %w", req.URL, err))
			case resp == nil:
				fail(fmt.Errorf("fetching %s: no response: %w", req.URL, ErrBadResponse))
			case !resp.OK():
				fail(fmt.Errorf("fetching %s: status %d: %w", req.URL, resp.StatusCode, ErrBadResponse))
			default:
				entries[i] = Entry{Request: req, Response: resp}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return cache.PutAll(ctx, entries)
}
