package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
)

// Hub is the serving side of the WebSocket transport. It upgrades
// /ws/session?code=CODE requests and fans published envelopes out to every
// connection of that session.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]map[*hubConn]struct{}
}

type hubConn struct {
	id   string
	code string
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		writeTimeout: 10 * time.Second,
		conns:        make(map[string]map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.URL.Query().Get("code"))
	if code == "" {
		http.Error(w, "missing session code", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &hubConn{
		id:   uuid.New().String(),
		code: code,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)

	log.Info().
		Str("connection_id", c.id).
		Str("session_code", code).
		Msg("WebSocket connection established")
}

func (h *Hub) register(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.code] == nil {
		h.conns[c.code] = make(map[*hubConn]struct{})
	}
	h.conns[c.code][c] = struct{}{}
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[c.code]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.conns, c.code)
			}
		}
	}
}

// Publish sends env to every connection of its session.
func (h *Hub) Publish(_ context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	code := strings.ToUpper(env.SessionCode)
	// send under the read lock; unregister closes send under the write lock
	var slow []*hubConn
	h.mu.RLock()
	for c := range h.conns[code] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("connection_id", c.id).Msg("connection send buffer full, closing connection")
		h.unregister(c)
		c.conn.Close()
	}
	return nil
}

// Connections returns the number of open connections for code.
func (h *Hub) Connections(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[strings.ToUpper(code)])
}

// DropAll closes every connection, as a server restart would.
func (h *Hub) DropAll() {
	h.mu.RLock()
	var all []*hubConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.conn.Close()
	}
}

func (h *Hub) writePump(c *hubConn) {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message to WebSocket")
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump only exists to process control frames and notice the close.
func (h *Hub) readPump(c *hubConn) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
