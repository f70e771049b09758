package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	filters Filters
}

func newClient(h *Hub, conn *websocket.Conn, f Filters) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		filters: f,
	}
}

// Filters returns the client's current filters.
func (c *Client) Filters() Filters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filters
}

func (c *Client) setFilters(f Filters) {
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()
}

// sendInitialState queues the latest confirmed result of every matching
// channel. Must be called before the client starts receiving live messages.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	f := c.Filters()
	for _, env := range c.hub.latest {
		if !f.Match(&env.Data) {
			continue
		}
		env.Initial = true
		msg, err := json.Marshal(env)
		if err != nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write coalescing: batch queued messages into one frame,
			// newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client messages:
//
//	{"type":"SUBSCRIBE","filters":{"tfs":[60],"tokens":["NSE:2885"],"indicators":["EMA_10"]}}
//	{"type":"PING","ping":1700000000000}
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("ws client disconnected", "component", "gateway")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type    string  `json:"type"`
			Ping    int64   `json:"ping"`
			Filters Filters `json:"filters"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.setFilters(msg.Filters)
			c.reply(map[string]interface{}{"type": "subscribed", "filters": msg.Filters})
		case "PING":
			c.reply(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		}
	}
}

// reply queues a control message. The hub lock keeps it from racing with
// RemoveClient closing the send channel.
func (c *Client) reply(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
