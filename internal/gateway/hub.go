// Package gateway serves the live indicator feed over WebSocket. Results are
// pushed in-process by the indicator service and fanned out to clients by
// their filters.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"tastream/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the message sent to clients for every result.
type Envelope struct {
	Type    string                `json:"type"` // "result"
	Channel string                `json:"channel"`
	Seq     int64                 `json:"seq"`
	Initial bool                  `json:"initial,omitempty"`
	Data    model.IndicatorResult `json:"data"`
}

// Hub manages WebSocket clients and fans indicator results out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]Envelope // last confirmed result per channel
	seq     int64

	// OnClientCount is called with the client count after every change.
	OnClientCount func(n int)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]Envelope),
	}
}

// Publish sends results to every client whose filters match. Slow clients
// miss messages rather than block the engine. Not-ready results are skipped.
func (h *Hub) Publish(results []model.IndicatorResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range results {
		r := &results[i]
		if !r.Ready {
			continue
		}
		h.seq++
		env := Envelope{Type: "result", Channel: r.PubSubChannel(), Seq: h.seq, Data: *r}
		if !r.Live {
			h.latest[env.Channel] = env
		}
		if len(h.clients) == 0 {
			continue
		}

		msg, err := json.Marshal(env)
		if err != nil {
			continue
		}
		for c := range h.clients {
			if !c.Filters().Match(r) {
				continue
			}
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket. Initial filters come from
// the repeated query parameters tf, token ("exchange:token") and indicator.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "component", "gateway", "error", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := newClient(h, conn, FiltersFromQuery(r.URL.Query()))

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(count)

	slog.Info("ws client connected", "component", "gateway", "clients", count)

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.notifyCount(count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.notifyCount(0)
}

func (h *Hub) notifyCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// Filters select which results a client receives. Empty fields match all.
type Filters struct {
	TFs        []int    `json:"tfs"`
	Tokens     []string `json:"tokens"`     // "exchange:token"
	Indicators []string `json:"indicators"` // result names, e.g. "EMA_10"
}

// FiltersFromQuery reads filters from URL query values.
func FiltersFromQuery(q map[string][]string) Filters {
	var f Filters
	for _, v := range q["tf"] {
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "s")); err == nil && n > 0 {
			f.TFs = append(f.TFs, n)
		}
	}
	f.Tokens = q["token"]
	f.Indicators = q["indicator"]
	return f
}

// Match reports whether r passes the filters.
func (f Filters) Match(r *model.IndicatorResult) bool {
	if len(f.TFs) > 0 && !containsInt(f.TFs, r.TF) {
		return false
	}
	if len(f.Tokens) > 0 && !containsString(f.Tokens, r.Exchange+":"+r.Token) {
		return false
	}
	if len(f.Indicators) > 0 && !containsString(f.Indicators, r.Name) {
		return false
	}
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
