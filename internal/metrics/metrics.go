// Package metrics holds the prometheus collectors for worker lifecycle and
// fetch outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	FetchHit         = "hit"
	FetchStored      = "stored"
	FetchPassthrough = "passthrough"
	FetchError       = "error"
)

// Collector groups the counters a Host reports into. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry    *prometheus.Registry
	lifecycle   *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	cacheWrites *prometheus.CounterVec
	clients     prometheus.Gauge
}

// New creates a Collector on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		lifecycle: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swcache_lifecycle_events_total",
				Help: "Worker lifecycle events by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swcache_fetch_total",
				Help: "Fetch events by outcome",
			},
			[]string{"outcome"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swcache_cache_writes_total",
				Help: "Background cache write-backs by outcome",
			},
			[]string{"outcome"},
		),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swcache_clients",
			Help: "Connected client pages",
		}),
	}
	c.registry.MustRegister(c.lifecycle, c.fetches, c.cacheWrites, c.clients)
	return c
}

// Lifecycle records one install or activate event.
func (c *Collector) Lifecycle(event string, err error) {
	if c == nil {
		return
	}
	c.lifecycle.WithLabelValues(event, outcome(err)).Inc()
}

// Fetch records one fetch event outcome.
func (c *Collector) Fetch(o string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(o).Inc()
}

// CacheWrite records a background write-back.
func (c *Collector) CacheWrite(err error) {
	if c == nil {
		return
	}
	c.cacheWrites.WithLabelValues(outcome(err)).Inc()
}

// SetClients sets the connected clients gauge.
func (c *Collector) SetClients(n int) {
	if c == nil {
		return
	}
	c.clients.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
