package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/cryguy/swcache/internal/clients"
	"github.com/cryguy/swcache/internal/metrics"
)

// ErrNoResponse is returned by Host.Fetch when a handler produced neither a
// response nor an error.
var ErrNoResponse = errors.New("worker produced no response")

// State is a worker's position in its lifecycle.
type State int32

const (
	StateInstalling State = iota
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Registration is one worker registered with a Host.
type Registration struct {
	id        uint64
	handler   Handler
	state     atomic.Int32
	activated chan struct{}
}

// ID identifies the registration within its host.
func (r *Registration) ID() uint64 { return r.id }

// State returns the current lifecycle state.
func (r *Registration) State() State { return State(r.state.Load()) }

// Activated is closed once activation has completed.
func (r *Registration) Activated() <-chan struct{} { return r.activated }

func (r *Registration) setState(s State) { r.state.Store(int32(s)) }

// Host drives workers through install, activate and fetch the way a browser
// drives a service worker. Lifecycle steps are serialized; fetches for a
// worker never reach it before its activation completed.
type Host struct {
	fetcher Fetcher
	log     hclog.Logger
	metrics *metrics.Collector
	clients *clients.Hub
	scope   *url.URL

	// lifecycle serializes install and activate across registrations.
	lifecycle sync.Mutex

	mu      sync.Mutex
	active  *Registration
	waiting *Registration
	nextID  uint64

	// activations runs deferred activations, bgTasks fetch write-backs.
	activations taskGroup
	bgTasks     taskGroup
}

// NewHost creates a host. The fetcher serves requests no worker controls.
func NewHost(fetcher Fetcher, opts ...Option) (*Host, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("host needs a fetcher")
	}
	o := buildOptions(opts)
	h := &Host{
		fetcher: fetcher,
		log:     o.logger.Named("host"),
		metrics: o.metrics,
		clients: o.clients,
	}
	h.bgTasks.onError = func(err error) {
		h.log.Debug("background task failed", "error", err)
	}
	h.activations.onError = func(err error) {
		h.log.Error("activating waiting worker", "error", err)
	}
	if o.scope != "" {
		u, err := parseScope(o.scope)
		if err != nil {
			return nil, err
		}
		h.scope = u
	}
	if h.clients != nil {
		h.clients.OnChange(h.ClientsChanged)
	}
	return h, nil
}

// Active returns the worker currently in control, or nil.
func (h *Host) Active() *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Waiting returns the installed worker waiting to activate, or nil.
func (h *Host) Waiting() *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waiting
}

func (h *Host) clientCount() int {
	if h.clients == nil {
		return 0
	}
	return h.clients.Count()
}

// Register installs handler and, when nothing holds it back, activates it.
// An install failure leaves the previous worker in control and returns the
// error. An activate failure is returned too, but the worker stays active.
func (h *Host) Register(ctx context.Context, handler Handler) (*Registration, error) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	h.nextID++
	reg := &Registration{id: h.nextID, handler: handler, activated: make(chan struct{})}
	h.mu.Unlock()
	reg.setState(StateInstalling)

	tasks := &taskGroup{}
	ev := &InstallEvent{ExtendableEvent: newExtendableEvent(ctx, tasks)}
	err := handler.OnInstall(ctx, ev)
	if waitErr := tasks.wait(); err == nil {
		err = waitErr
	}
	h.metrics.Lifecycle("install", err)
	if err != nil {
		reg.setState(StateRedundant)
		h.log.Error("install failed", "worker", reg.id, "error", err)
		return reg, err
	}
	reg.setState(StateInstalled)
	h.log.Info("installed", "worker", reg.id)

	h.mu.Lock()
	mustWait := h.active != nil && !ev.skippedWaiting() && h.clientCount() > 0
	if mustWait {
		if h.waiting != nil {
			h.waiting.setState(StateRedundant)
		}
		h.waiting = reg
	}
	h.mu.Unlock()
	if mustWait {
		h.log.Info("waiting for clients to close", "worker", reg.id, "clients", h.clientCount())
		return reg, nil
	}
	return reg, h.activate(ctx, reg)
}

// SkipWaiting activates the waiting worker now, if there is one.
func (h *Host) SkipWaiting(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.activateWaiting(ctx)
}

// ClientsChanged is told the number of connected clients. When the last one
// goes away a waiting worker activates.
func (h *Host) ClientsChanged(count int) {
	h.metrics.SetClients(count)
	if count > 0 || h.Waiting() == nil {
		return
	}
	h.activations.goTask(context.Background(), func(ctx context.Context) error {
		h.lifecycle.Lock()
		defer h.lifecycle.Unlock()
		if h.clientCount() > 0 {
			return nil
		}
		return h.activateWaiting(ctx)
	})
}

// activateWaiting must be called with h.lifecycle held.
func (h *Host) activateWaiting(ctx context.Context) error {
	h.mu.Lock()
	reg := h.waiting
	h.mu.Unlock()
	if reg == nil {
		return nil
	}
	return h.activate(ctx, reg)
}

// activate must be called with h.lifecycle held.
func (h *Host) activate(ctx context.Context, reg *Registration) error {
	h.mu.Lock()
	prev := h.active
	h.active = reg
	if h.waiting == reg {
		h.waiting = nil
	}
	h.mu.Unlock()
	if prev != nil {
		prev.setState(StateRedundant)
	}
	reg.setState(StateActivating)

	tasks := &taskGroup{}
	ev := &ActivateEvent{ExtendableEvent: newExtendableEvent(ctx, tasks)}
	err := reg.handler.OnActivate(ctx, ev)
	if waitErr := tasks.wait(); err == nil {
		err = waitErr
	}
	h.metrics.Lifecycle("activate", err)

	reg.setState(StateActivated)
	close(reg.activated)
	if err != nil {
		h.log.Error("activate failed", "worker", reg.id, "error", err)
	} else {
		h.log.Info("activated", "worker", reg.id)
	}

	if ev.claimed() && h.clients != nil {
		n := h.clients.Claim(ctx, h.cacheLabel(reg))
		h.log.Info("claimed clients", "worker", reg.id, "clients", n)
	}
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// cacheLabel names the controller in client notifications.
func (h *Host) cacheLabel(reg *Registration) string {
	if cf, ok := reg.handler.(*CacheFirst); ok {
		return cf.cfg.CacheName()
	}
	return fmt.Sprintf("worker-%d", reg.id)
}

// Fetch dispatches req to the active worker, waiting for its activation to
// finish first. With no active worker the request goes to the network.
func (h *Host) Fetch(ctx context.Context, req *Request) (*Response, error) {
	reg := h.Active()
	if reg == nil {
		resp, err := h.fetcher.Fetch(ctx, req)
		if err != nil {
			h.metrics.Fetch(metrics.FetchError)
			return nil, err
		}
		h.metrics.Fetch(metrics.FetchPassthrough)
		return resp, nil
	}
	select {
	case <-reg.activated:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ev := &FetchEvent{
		ExtendableEvent: newExtendableEvent(context.WithoutCancel(ctx), &h.bgTasks),
		Request:         req,
	}
	resp, err := reg.handler.OnFetch(ctx, ev)
	if err != nil {
		h.metrics.Fetch(metrics.FetchError)
		h.log.Debug("fetch failed", "url", req.URL, "error", err)
		return nil, err
	}
	if resp == nil {
		h.metrics.Fetch(metrics.FetchError)
		return nil, fmt.Errorf("fetch %s: %w", req.URL, ErrNoResponse)
	}
	return resp, nil
}

// Drain waits for background work: fetch write-backs and deferred
// activations. Errors are logged, not returned. Work started after Drain
// was called runs inline instead, so a fetch that races Drain returns only
// once its write-back finished.
func (h *Host) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = h.activations.wait()
		_ = h.bgTasks.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
