package gauge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket message types pushed to clients.
const (
	WSTypeOverview = "overview"
	WSTypeSample   = "sample"
	WSTypeAlert    = "alert"
)

// metricChannelPrefix subscribes a client to samples of one metric,
// e.g. "metric:cpu".
const metricChannelPrefix = "metric:"

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WSSubscription is sent by clients to subscribe to specific channels.
type WSSubscription struct {
	Subscribe []string `json:"subscribe"`
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn

	// Buffered channel for outgoing messages.
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

// WebSocketHub fans recorded samples and overview snapshots out to
// connected clients.
type WebSocketHub struct {
	logger  *log.Logger
	verbose bool

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscriptions only, so small.
	maxMessageSize = 512

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newWebSocketHub creates a new hub but does NOT start it. Call run separately.
func newWebSocketHub(logger *log.Logger, verbose bool) *WebSocketHub {
	return &WebSocketHub{
		logger:     logger,
		verbose:    verbose,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// run handles registration and unregistration until ctx is cancelled.
func (h *WebSocketHub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			if h.verbose {
				h.logger.Printf("ws client connected (total: %d)", h.ClientCount())
			}

		case client := <-h.unregister:
			h.remove(client)

			if h.verbose {
				h.logger.Printf("ws client disconnected (total: %d)", h.ClientCount())
			}

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WebSocketHub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// drop schedules a client for removal without blocking the caller.
func (h *WebSocketHub) drop(client *Client) {
	go func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all clients subscribed to the given channel.
func (h *WebSocketHub) Broadcast(msgType string, payload interface{}) {
	h.broadcast(msgType, "", payload)
}

// BroadcastSample sends a recorded sample to clients subscribed to samples
// in general or to its metric.
func (h *WebSocketHub) BroadcastSample(s Sample) {
	if h == nil || h.ClientCount() == 0 {
		return
	}
	h.broadcast(WSTypeSample, metricChannelPrefix+s.Metric, s)
}

// BroadcastOverview sends the latest overview snapshot.
func (h *WebSocketHub) BroadcastOverview(o *Overview) {
	if h == nil || o == nil || h.ClientCount() == 0 {
		return
	}
	h.Broadcast(WSTypeOverview, o)
}

func (h *WebSocketHub) broadcast(msgType, altChannel string, payload interface{}) {
	if h == nil {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		if h.verbose {
			h.logger.Printf("ws marshal error: %v", err)
		}
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(msgType) && (altChannel == "" || !client.isSubscribed(altChannel)) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Buffer full
			h.drop(client)
		}
	}
	h.mu.RUnlock()
}

// --- Client methods ---

func (c *Client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// No subscriptions means everything.
	if len(c.channels) == 0 {
		return true
	}
	return c.channels[channel]
}

// readPump handles subscription messages and pongs.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.hub.verbose {
				c.hub.logger.Printf("ws read error: %v", err)
			}
			return
		}

		var sub WSSubscription
		if err := json.Unmarshal(message, &sub); err == nil && len(sub.Subscribe) > 0 {
			c.mu.Lock()
			c.channels = make(map[string]bool, len(sub.Subscribe))
			for _, ch := range sub.Subscribe {
				c.channels[strings.TrimSpace(ch)] = true
			}
			c.mu.Unlock()

			if c.hub.verbose {
				c.hub.logger.Printf("ws client subscribed to: %v", sub.Subscribe)
			}
		}
	}
}

// writePump writes messages from the send channel to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// registerWebSocketRoute registers the live feed endpoint.
func registerWebSocketRoute(router *gin.Engine, e *Engine) {
	router.GET(e.config.Prefix+"/ws/live", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			if e.config.DevMode {
				e.logger.Printf("ws upgrade failed: %v", err)
			}
			return
		}

		client := &Client{
			hub:      e.wsHub,
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			channels: make(map[string]bool),
		}

		select {
		case e.wsHub.register <- client:
		case <-e.ctx.Done():
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	})
}
