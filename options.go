package swcache

import (
	"github.com/hashicorp/go-hclog"

	"github.com/cryguy/swcache/internal/clients"
	"github.com/cryguy/swcache/internal/metrics"
)

// Option configures a Host or a CacheFirst worker. Each reads only the
// settings it uses.
type Option func(*options)

type options struct {
	logger  hclog.Logger
	metrics *metrics.Collector
	clients *clients.Hub
	scope   string
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics reports lifecycle and fetch outcomes into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithClients connects a Host to the pages tracked by hub.
func WithClients(hub *clients.Hub) Option {
	return func(o *options) { o.clients = hub }
}

// WithScope sets the absolute base URL the worker controls. The Host builds
// request URLs from it and CacheFirst resolves core asset paths against it.
func WithScope(base string) Option {
	return func(o *options) { o.scope = base }
}
