package swcache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/swcache/internal/cachestore"
)

// ---------------------------------------------------------------------------
// fakeFetcher: in-memory network for worker tests.
// ---------------------------------------------------------------------------

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*Response
	failures  map[string]error
	calls     map[string]int
	// gate, when set, blocks every fetch until it is closed.
	gate chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*Response),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) serve(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &Response{
		StatusCode: status,
		StatusText: http.StatusText(status),
		Headers:    map[string]string{"content-type": "text/plain"},
		Body:       []byte(body),
		URL:        url,
	}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = err
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	gate := f.gate
	f.calls[req.URL]++
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[req.URL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp.Clone(), nil
	}
	return &Response{StatusCode: http.StatusNotFound, StatusText: "Not Found", Headers: map[string]string{}}, nil
}

var errNetwork = errors.New("connection refused")

// serveCoreAssets makes every default core asset fetchable.
func serveCoreAssets(f *fakeFetcher) {
	for _, p := range defaultCoreAssets {
		f.serve(p, http.StatusOK, "asset "+p)
	}
}

// newTestWorker returns a CacheFirst worker over fresh in-memory storage
// with every core asset reachable.
func newTestWorker(t *testing.T) (*CacheFirst, *cachestore.Memory, *fakeFetcher) {
	t.Helper()
	storage := cachestore.NewMemory()
	fetcher := newFakeFetcher()
	serveCoreAssets(fetcher)
	w, err := NewCacheFirst(DefaultConfig(), storage, fetcher)
	if err != nil {
		t.Fatalf("NewCacheFirst: %v", err)
	}
	return w, storage, fetcher
}

// newTestHost registers w with a fresh host and waits for activation.
func newTestHost(t *testing.T, fetcher Fetcher, w Handler, opts ...Option) *Host {
	t.Helper()
	h, err := NewHost(fetcher, opts...)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	if _, err := h.Register(context.Background(), w); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

func drain(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
