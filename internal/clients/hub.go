// Package clients tracks the pages connected to a worker host and notifies
// them when a new worker takes control.
package clients

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Path is where pages connect.
const Path = "/__swcache/clients"

const writeTimeout = 5 * time.Second

// Message is sent to clients as JSON.
type Message struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Cache string `json:"cache,omitempty"`
}

type client struct {
	id         string
	conn       *websocket.Conn
	controller string
}

// Hub accepts client connections and broadcasts controller changes.
type Hub struct {
	log hclog.Logger

	mu       sync.Mutex
	clients  map[string]*client
	onChange func(count int)
}

// NewHub returns an empty hub. A nil logger discards output.
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		log:     logger.Named("clients"),
		clients: make(map[string]*client),
	}
}

// OnChange registers fn to be called with the new client count after every
// connect and disconnect. fn runs outside the hub's lock.
func (h *Hub) OnChange(fn func(count int)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// IDs returns the connected client IDs, sorted.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Controller returns the cache name of the worker controlling client id, or
// "" when the client is uncontrolled or unknown.
func (h *Hub) Controller(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		return c.controller
	}
	return ""
}

// ServeHTTP upgrades the request to a websocket and holds it until the page
// goes away. Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	h.add(c)
	defer h.remove(c.id)

	if err := h.send(r.Context(), c, Message{Type: "hello", ID: c.id}); err != nil {
		return
	}
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// Claim marks every connected client as controlled by the worker for
// cacheName and tells each of them. It returns how many were notified.
func (h *Hub) Claim(ctx context.Context, cacheName string) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		c.controller = cacheName
		targets = append(targets, c)
	}
	h.mu.Unlock()

	notified := 0
	for _, c := range targets {
		if err := h.send(ctx, c, Message{Type: "controllerchange", Cache: cacheName}); err != nil {
			continue
		}
		notified++
	}
	h.log.Debug("claimed clients", "cache", cacheName, "clients", notified)
	return notified
}

func (h *Hub) send(ctx context.Context, c *client, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		h.log.Debug("client write failed", "client", c.id, "error", err)
		_ = c.conn.CloseNow()
		return err
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n, fn := len(h.clients), h.onChange
	h.mu.Unlock()
	h.log.Debug("client connected", "client", c.id, "clients", n)
	if fn != nil {
		fn(n)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	if _, ok := h.clients[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	n, fn := len(h.clients), h.onChange
	h.mu.Unlock()
	h.log.Debug("client disconnected", "client", id, "clients", n)
	if fn != nil {
		fn(n)
	}
}
