package swcache

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// taskGroup runs WaitUntil work and collects its errors. When onError is
// set errors go there instead and wait always returns nil. Once wait has
// been called, later tasks run inline on the caller's goroutine.
type taskGroup struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	errs    *multierror.Error
	onError func(error)
}

func (g *taskGroup) goTask(ctx context.Context, fn func(context.Context) error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.report(fn(ctx))
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	go func() {
		defer g.wg.Done()
		g.report(fn(ctx))
	}()
}

func (g *taskGroup) report(err error) {
	if err == nil {
		return
	}
	if g.onError != nil {
		g.onError(err)
		return
	}
	g.mu.Lock()
	g.errs = multierror.Append(g.errs, err)
	g.mu.Unlock()
}

// wait closes the group, blocks until every started task finished and
// returns their combined error.
func (g *taskGroup) wait() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs.ErrorOrNil()
}

// ExtendableEvent lets a handler extend its event with background work.
type ExtendableEvent struct {
	ctx   context.Context
	tasks *taskGroup
}

func newExtendableEvent(ctx context.Context, tasks *taskGroup) ExtendableEvent {
	return ExtendableEvent{ctx: ctx, tasks: tasks}
}

// WaitUntil runs fn on its own goroutine. For install and activate the host
// waits for fn and a returned error fails the event. For fetch, fn outlives
// the response, and its error is only logged.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.tasks.goTask(e.ctx, fn)
}

// InstallEvent is passed to Handler.OnInstall.
type InstallEvent struct {
	ExtendableEvent

	mu          sync.Mutex
	skipWaiting bool
}

// SkipWaiting asks the host to activate the worker as soon as it installs,
// even while an older worker still controls clients.
func (e *InstallEvent) SkipWaiting() {
	e.mu.Lock()
	e.skipWaiting = true
	e.mu.Unlock()
}

func (e *InstallEvent) skippedWaiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipWaiting
}

// ActivateEvent is passed to Handler.OnActivate.
type ActivateEvent struct {
	ExtendableEvent

	mu    sync.Mutex
	claim bool
}

// Claim asks the host to hand every connected client to this worker once
// activation completes, without waiting for a reload.
func (e *ActivateEvent) Claim() {
	e.mu.Lock()
	e.claim = true
	e.mu.Unlock()
}

func (e *ActivateEvent) claimed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claim
}

// FetchEvent is passed to Handler.OnFetch for every intercepted request.
type FetchEvent struct {
	ExtendableEvent

	Request *Request
}
