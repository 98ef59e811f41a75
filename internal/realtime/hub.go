// Package realtime pushes completed analysis results to WebSocket clients.
//
// The hub mirrors the pipeline's backpressure contract: each client has a
// small send buffer, and a client that cannot drain it is skipped so the
// pipeline is never blocked by a slow consumer; on reconnect the client
// immediately receives the most recent cycle.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/streamlens/internal/model"
)

// MessageType identifies the kind of a pushed message.
type MessageType string

const (
	// MessageTypeAnalysis carries a full cycle result.
	MessageTypeAnalysis MessageType = "analysis"

	// MessageTypeReport carries a single anomaly report.
	MessageTypeReport MessageType = "report"

	// MessageTypeHeartbeat keeps connections alive.
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// Message is one frame pushed to clients.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientBufSize  = 16
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The façade is origin-agnostic; deployments front it with their own
	// origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// =============================================================================
// Client
// =============================================================================

// Client is one connected WebSocket consumer.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// readPump discards inbound frames and enforces pong deadlines.
func (c *Client) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes queued messages onto the connection.
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
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// =============================================================================
// Hub
// =============================================================================

// Hub manages connected clients and fans results out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	latest  *Message
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With("component", "realtime-hub"),
	}
}

// Run attaches the hub to an engine result stream and broadcasts until the
// context ends.
func (h *Hub) Run(ctx context.Context, results <-chan model.AnalysisResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			h.BroadcastAnalysis(result)
		}
	}
}

// BroadcastAnalysis pushes a cycle result to every connected client.
func (h *Hub) BroadcastAnalysis(result model.AnalysisResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("marshal analysis result", "error", err)
		return
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      MessageTypeAnalysis,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	h.mu.Lock()
	h.latest = &msg
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			// Slow consumer: skip this frame, the client keeps its place.
			h.logger.Debug("dropping frame for slow client", "client", client.ID)
		}
	}
}

// ServeWS upgrades an HTTP request into a hub client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Message, clientBufSize),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.latest != nil {
		client.send <- *h.latest
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", "client", client.ID, "total", count)

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		c.close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "client", c.ID, "total", count)
}
