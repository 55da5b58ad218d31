package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/john-rock/beeroll/internal/logging"
)

// Event is pushed to every connected websocket client.
type Event struct {
	Type     string  `json:"type"`
	State    string  `json:"state,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Message  string  `json:"message,omitempty"`
	Path     string  `json:"path,omitempty"`
}

// eventHub fans events out to websocket subscribers. Slow or broken
// clients are dropped rather than blocking the broadcaster.
type eventHub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{
		log: logging.L("events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The HTTP surface already has CORS middleware; the upgrade
			// check mirrors it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*websocket.Conn]struct{}{},
	}
}

// handle upgrades the connection and parks it until the peer closes.
func (h *eventHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Reads are only needed to observe close frames.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends the event to every subscriber.
func (h *eventHub) Broadcast(ev Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			h.drop(c)
		}
	}
}

func (h *eventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		_ = c.Close()
	}
	h.clients = map[*websocket.Conn]struct{}{}
	h.mu.Unlock()
}
