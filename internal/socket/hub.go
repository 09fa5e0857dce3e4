// server/internal/socket/hub.go
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"lab-booking-api-server/internal/events"

	"github.com/gorilla/websocket"
)

// client wraps a connection; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub keeps every WebSocket connection of each user id, one per open tab,
// and pushes request decisions to the requester.
type Hub struct {
	clients map[string]map[*websocket.Conn]*client
	mu      sync.RWMutex
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]*client),
		log:     log,
	}
}

// Register adds conn to userID's connections.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[userID]
	if !ok {
		conns = make(map[*websocket.Conn]*client)
		h.clients[userID] = conns
	}
	if _, ok := conns[conn]; !ok {
		conns[conn] = &client{conn: conn}
	}
	h.log.Info("websocket client registered", "user", userID, "connections", len(conns))
}

// Unregister removes conn from userID's connections.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[userID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
	h.log.Info("websocket client unregistered", "user", userID, "connections", len(conns))
}

// Send writes message to every connection of userID. An offline user is not
// an error; a failed write to one tab does not stop the others.
func (h *Hub) Send(userID string, message []byte) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		h.log.Debug("websocket client not connected", "user", userID)
		return nil
	}

	var errs []error
	for _, c := range targets {
		c.mu.Lock()
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			errs = append(errs, err)
		}
		c.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Publish implements events.Publisher by notifying the requester.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.Send(ev.UserID, payload)
}

// Connected reports how many live connections userID has.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
