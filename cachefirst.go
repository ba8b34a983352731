package swcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/cryguy/swcache/internal/metrics"
)

// CacheFirst is the offline worker: it precaches the core assets on install,
// drops stale cache versions on activate, and answers fetches from the
// current bucket before falling back to the network.
type CacheFirst struct {
	cfg     Config
	storage CacheStorage
	fetcher Fetcher
	scope   *url.URL
	log     hclog.Logger
	metrics *metrics.Collector
}

var _ Handler = (*CacheFirst)(nil)

// NewCacheFirst builds the worker. WithScope, WithLogger and WithMetrics
// apply; other options are ignored.
func NewCacheFirst(cfg Config, storage CacheStorage, fetcher Fetcher, opts ...Option) (*CacheFirst, error) {
	if cfg.IsZero() {
		return nil, fmt.Errorf("%w: zero config", ErrInvalidConfig)
	}
	if storage == nil || fetcher == nil {
		return nil, fmt.Errorf("cache-first worker needs a cache storage and a fetcher")
	}
	o := buildOptions(opts)
	w := &CacheFirst{
		cfg:     cfg,
		storage: storage,
		fetcher: fetcher,
		log:     o.logger.Named("cachefirst"),
		metrics: o.metrics,
	}
	if o.scope != "" {
		u, err := parseScope(o.scope)
		if err != nil {
			return nil, err
		}
		w.scope = u
	}
	return w, nil
}

// Config returns the worker's configuration.
func (w *CacheFirst) Config() Config { return w.cfg }

// CoreRequests returns the install requests, resolved against the scope.
func (w *CacheFirst) CoreRequests() []*Request {
	assets := w.cfg.CoreAssets()
	reqs := make([]*Request, len(assets))
	for i, p := range assets {
		reqs[i] = NewRequest(w.resolve(p))
	}
	return reqs
}

func (w *CacheFirst) resolve(path string) string {
	if w.scope == nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return w.scope.ResolveReference(ref).String()
}

// OnInstall opens the current bucket and stores every core asset in it.
func (w *CacheFirst) OnInstall(ctx context.Context, ev *InstallEvent) error {
	cache, err := w.storage.Open(ctx, w.cfg.CacheName())
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := AddAll(ctx, cache, w.fetcher, w.CoreRequests()); err != nil {
		return fmt.Errorf("install: precaching core assets: %w", err)
	}
	w.log.Info("precached core assets", "cache", w.cfg.CacheName(), "assets", len(w.cfg.coreAssets))
	ev.SkipWaiting()
	return nil
}

// OnActivate deletes every bucket except the current one, then claims the
// open clients.
func (w *CacheFirst) OnActivate(ctx context.Context, ev *ActivateEvent) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("activate: listing caches: %w", err)
	}
	var errs *multierror.Error
	for _, name := range names {
		if name == w.cfg.CacheName() {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("deleting cache %q: %w", name, err))
			continue
		}
		w.log.Info("deleted stale cache", "cache", name)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	ev.Claim()
	return nil
}

// OnFetch serves a cached response when there is one. Otherwise it goes to
// the network and, for a 200 response, writes a copy back to the cache in
// the background.
func (w *CacheFirst) OnFetch(ctx context.Context, ev *FetchEvent) (*Response, error) {
	cache, err := w.storage.Open(ctx, w.cfg.CacheName())
	if err != nil {
		return nil, fmt.Errorf("fetch: opening cache: %w", err)
	}
	cached, err := cache.Match(ctx, ev.Request)
	if err != nil {
		return nil, fmt.Errorf("fetch: matching %s: %w", ev.Request.URL, err)
	}
	if cached != nil {
		w.metrics.Fetch(metrics.FetchHit)
		return cached, nil
	}

	resp, err := w.fetcher.Fetch(ctx, ev.Request)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.StatusCode != http.StatusOK {
		w.metrics.Fetch(metrics.FetchPassthrough)
		return resp, nil
	}

	req, copied := ev.Request, resp.Clone()
	ev.WaitUntil(func(ctx context.Context) error {
		err := cache.Put(ctx, req, copied)
		w.metrics.CacheWrite(err)
		if err != nil {
			w.log.Debug("cache write-back failed", "url", req.URL, "error", err)
		}
		return nil
	})
	w.metrics.Fetch(metrics.FetchStored)
	return resp, nil
}

func parseScope(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: scope %q: %v", ErrInvalidConfig, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: scope %q must be an absolute URL", ErrInvalidConfig, raw)
	}
	return u, nil
}
