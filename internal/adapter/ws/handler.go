// Package ws implements the WebSocket adapter: a global progress event
// stream and the per-run review decision channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Message is the envelope of the global event stream.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. runID is empty for global
// stream subscribers and set for review channel clients.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	runID  string
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu           sync.RWMutex
	conns        map[*conn]struct{}
	originHosts  []string
	skipVerify   bool
	writeTimeout time.Duration
}

// NewHub creates a new WebSocket hub. allowedOrigin restricts cross-origin
// upgrades; "*" or "" accepts any origin.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{
		conns:        make(map[*conn]struct{}),
		writeTimeout: writeTimeout,
	}
	if allowedOrigin == "" || allowedOrigin == "*" {
		h.skipVerify = true
	} else {
		h.originHosts = []string{originHost(allowedOrigin)}
	}
	return h
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.skipVerify,
		OriginPatterns:     h.originHosts,
	})
}

// HandleWS upgrades a connection to the global progress event stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.accept(w, r)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := h.add(ws, cancel, "")
	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
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

func (h *Hub) add(ws *websocket.Conn, cancel context.CancelFunc, runID string) *conn {
	c := &conn{ws: ws, cancel: cancel, runID: runID}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Broadcast sends a message to all global stream clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	h.send(ctx, data, func(c *conn) bool { return c.runID == "" })
}

// BroadcastEvent marshals a typed event and sends it to the global stream.
// Events that belong to a run are also forwarded to that run's review
// channel clients; review state changes arrive there as state_update.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: data})

	runID := runIDOf(data)
	if runID == "" || !h.hasRunSubscribers(runID) {
		return
	}
	msgType := MsgEvent
	if eventType == EventReviewState {
		msgType = MsgStateUpdate
	}
	out, err := json.Marshal(serverMessage{Type: msgType, Event: eventType, Data: data})
	if err != nil {
		return
	}
	h.send(ctx, out, func(c *conn) bool { return c.runID == runID })
}

func (h *Hub) hasRunSubscribers(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.runID == runID {
			return true
		}
	}
	return false
}

func (h *Hub) send(ctx context.Context, data []byte, match func(*conn) bool) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := h.write(ctx, c, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

func (h *Hub) write(ctx context.Context, c *conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ConnectionCount returns the number of active connections.
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
		slog.Info("websocket disconnected", "run_id", c.runID)
	}
}

// runIDOf extracts the run id from an encoded event payload.
func runIDOf(data []byte) string {
	var ids struct {
		RunID      string `json:"run_id"`
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(data, &ids); err != nil {
		return ""
	}
	if ids.RunID != "" {
		return ids.RunID
	}
	return ids.WorkflowID
}
