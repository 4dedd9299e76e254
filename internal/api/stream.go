package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chartcore/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Hub streams alert events to WebSocket clients. It implements the
// notification sink interface so the dispatcher can fan events into it.
//
// Clients connect to the stream endpoint with an optional ?last_seq=N to
// replay buffered events newer than N before live delivery starts.
type Hub struct {
	upgrader websocket.Upgrader
	replay   *ReplayBuffer

	mu      sync.RWMutex
	clients map[*client]struct{}
	seq     int64
	closed  bool

	// OnDrop is called when a slow client misses an event.
	OnDrop func()
}

// NewHub creates a Hub that keeps the last replaySize envelopes.
func NewHub(replaySize int) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		replay:  NewReplayBuffer(replaySize),
		clients: make(map[*client]struct{}),
	}
}

// Send broadcasts one event to every connected client. Sequencing, the
// replay push and the fan-out happen under one lock so a connecting client
// sees every envelope exactly once and in order.
func (h *Hub) Send(_ context.Context, ev model.AlertEvent) error {
	data := ev.JSON()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	buf := envelope(h.seq, time.Now().UTC(), data)
	h.replay.Push(h.seq, buf)

	for c := range h.clients {
		select {
		case c.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	return nil
}

// envelope builds {"seq":N,"ts":"...","event":{...}}.
func envelope(seq int64, ts time.Time, event []byte) []byte {
	buf := make([]byte, 0, len(event)+96)
	buf = append(buf, `{"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","event":`...)
	buf = append(buf, event...)
	buf = append(buf, '}')
	return buf
}

// Seq returns the sequence number of the last broadcast event.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}

	last, replay := int64(0), false
	if v := r.URL.Query().Get("last_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			last, replay = n, true
		}
	}

	// Replay is queued before the client becomes visible to Send.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if replay {
		for _, env := range h.replay.Since(last) {
			select {
			case c.send <- env:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	slog.Info("stream client connected", "clients", count, "replay_after", last)

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// client is a single WebSocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func (c *client) writePump() {
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

			// Coalesce queued envelopes into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
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

// readPump only services control frames; clients do not send commands.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		slog.Info("stream client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
