package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Hub fans newly scored transactions out to connected websocket clients.
// Slow or dead clients are dropped rather than blocking the broadcast.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) add(c *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	return len(h.conns)
}

func (h *Hub) remove(c *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.Close()
	}
	return len(h.conns)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends v as JSON to every connected client. Clients whose
// write fails are closed and removed.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(v); err != nil {
			log.Debug().Err(err).Msg("dropping websocket client")
			delete(h.conns, c)
			c.Close()
		}
	}
}

// CloseAll disconnects every client, typically during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		c.Close()
		delete(h.conns, c)
	}
}

// handleWS upgrades the connection and registers it with the hub. The
// read loop exists only to observe the close handshake; inbound
// messages are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	n := s.hub.add(conn)
	s.setWSClients(n)
	log.Debug().Int("clients", n).Msg("websocket client connected")

	go func() {
		defer func() {
			s.setWSClients(s.hub.remove(conn))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) setWSClients(n int) {
	if s.metrics != nil {
		s.metrics.WSClients.Set(float64(n))
	}
}
