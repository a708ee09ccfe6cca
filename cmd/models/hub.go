package models

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// ClientConnection is one user's live websocket session. Send is the
// outbound queue drained by its WritePump.
type ClientConnection struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uint
}

// WritePump drains the Send queue onto the websocket connection and
// keeps the connection alive with periodic pings. Runs as a goroutine
// per connection; returns when the queue is closed or a write fails.
func (c *ClientConnection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub is the in-process registry of connected users. Connections are
// added on register and dropped on unregister or when their send queue
// stops draining; lookups go through the mutex-guarded map.
type Hub struct {
	mu          sync.RWMutex
	connections map[uint][]*ClientConnection

	Register   chan *ClientConnection
	Unregister chan *ClientConnection
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[uint][]*ClientConnection),
		Register:    make(chan *ClientConnection),
		Unregister:  make(chan *ClientConnection),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.connections[client.UserID] = append(h.connections[client.UserID], client)
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *ClientConnection) {
	conns := h.connections[client.UserID]
	for i, conn := range conns {
		if conn == client {
			h.connections[client.UserID] = append(conns[:i], conns[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.connections[client.UserID]) == 0 {
		delete(h.connections, client.UserID)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// BroadcastToUser queues the message on every connection the user has
// open. Connections with a full send queue are dropped.
func (h *Hub) BroadcastToUser(userID uint, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.connections[userID]
	for i := len(conns) - 1; i >= 0; i-- {
		client := conns[i]
		select {
		case client.Send <- message:
		default:
			h.removeLocked(client)
		}
	}
}
