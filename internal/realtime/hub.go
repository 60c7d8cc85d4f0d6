// Package realtime pushes in-app notifications to connected browsers over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the envelope written to clients
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type delivery struct {
	userID  uuid.UUID
	payload []byte
}

// Client is one websocket connection of a user
type Client struct {
	hub    *Hub
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks connections per user and fans events out to them
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	done       chan struct{}

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates a hub. allowOrigin decides browser origins of /ws upgrades; a nil
// func accepts any origin. Requests without an Origin header come from non-browser
// clients and are always accepted.
func NewHub(allowOrigin func(origin string) bool, logger *zap.Logger) *Hub {
	h := &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		done:       make(chan struct{}),
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowOrigin == nil {
				return true
			}
			return allowOrigin(origin)
		},
	}
	return h
}

// Run dispatches registrations and deliveries until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("user_id", c.userID.String()))
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		case d := <-h.deliveries:
			h.mu.Lock()
			for c := range h.clients[d.userID] {
				select {
				case c.send <- d.payload:
				default:
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held
func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.remove(c)
		}
	}
}

// Connections returns the number of open connections of a user
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish queues an event for every connection of the user. It never blocks;
// when the hub is saturated the event is dropped and logged.
func (h *Hub) Publish(userID uuid.UUID, eventType string, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		h.logger.Warn("failed to encode websocket event", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case h.deliveries <- delivery{userID: userID, payload: payload}:
	default:
		h.logger.Warn("websocket hub saturated, dropping event",
			zap.String("type", eventType),
			zap.String("user_id", userID.String()))
	}
}

// ServeWS upgrades the request and attaches the connection to userID.
// Authentication happens before this is called.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{hub: h, userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
