package swcache

import "context"

// Handler is a worker: the three lifecycle callbacks a Host dispatches.
type Handler interface {
	// OnInstall prepares the worker. A returned error fails installation
	// and the worker never activates.
	OnInstall(ctx context.Context, ev *InstallEvent) error
	// OnActivate runs once the worker is about to take over.
	OnActivate(ctx context.Context, ev *ActivateEvent) error
	// OnFetch answers one request. Returning a nil response without an
	// error is treated as a network error, like respondWith(undefined).
	OnFetch(ctx context.Context, ev *FetchEvent) (*Response, error)
}
