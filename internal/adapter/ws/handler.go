// Package ws pushes delivery progress to connected dashboards over WebSocket:
// stage advances, sync status changes, and approval lifecycle events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope every event is wrapped in before it goes out on the
// wire. Type names the event, Payload carries the event-specific body.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn pairs a live WebSocket with the cancel func for its read loop.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub tracks every connected dashboard and fans broadcast messages out to all
// of them. Clients only listen; inbound frames are read solely to notice
// disconnects.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub returns an empty hub ready to accept connections.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket and registers it with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks happen in the CORS middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("dashboard connected", "remote", r.RemoteAddr)

	// Drain inbound frames until the peer goes away.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast fans msg out to every connected client. A client whose write
// fails is dropped from the hub.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal ws message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("ws write failed, dropping client", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount reports how many clients are currently attached.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("dashboard disconnected")
	}
}
