package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"invoiceflow/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 1024
)

// inboundMessage is the shape of client commands read off the socket
type inboundMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// Client is a middleman between a websocket connection and the registry
type Client struct {
	registry *Registry

	// The websocket connection
	conn Connection

	// Buffered channel of outbound messages. sendMu serializes queueing
	// against closeSend so no goroutine can send after the channel is
	// closed; only the registry's disconnect path closes it.
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Client metadata
	id          string
	userID      string
	remoteAddr  string
	connectedAt time.Time
	lastActive  atomic.Int64

	// Topics this client is subscribed to, guarded by the registry mutex
	topics map[string]bool

	// Pump timeouts
	writeWait time.Duration
	pongWait  time.Duration

	// Logger
	logger *slog.Logger
}

// NewClient creates a client for a live gorilla connection
func NewClient(registry *Registry, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	return NewClientWithConnection(registry, NewConnectionWrapper(conn), userID, logger)
}

// NewClientWithConnection creates a client with a custom connection (for testing)
func NewClientWithConnection(registry *Registry, conn Connection, userID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	id := uuid.New().String()
	logger = logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
		slog.String("user_id", userID),
	)

	client := &Client{
		registry:    registry,
		conn:        conn,
		send:        make(chan []byte, registry.sendBuffer),
		id:          id,
		userID:      userID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		topics:      make(map[string]bool),
		writeWait:   registry.writeWait,
		pongWait:    registry.pongWait,
		logger:      logger,
	}
	client.touch()
	return client
}

// ID returns the connection id assigned at creation
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user this connection belongs to
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) lastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// trySend queues a payload without blocking. Returns false when the
// client is already closed or its buffer is full.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend marks the client closed and closes the outbound channel.
// Idempotent; holding sendMu excludes any in-flight trySend.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps inbound client commands off the websocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.logger.Info("client read pump stopped",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		c.registry.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected websocket close",
					slog.String("error", err.Error()))
			}
			break
		}
		c.touch()
		c.handleMessage(message)
	}
}

// handleMessage dispatches a single inbound client command. Malformed
// JSON gets an error envelope instead of tearing the connection down.
func (c *Client) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed client message",
			slog.Int("size", len(raw)),
			slog.String("error", err.Error()))
		c.sendControl(map[string]interface{}{
			"type":      "error",
			"message":   "invalid message format",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	switch msg.Type {
	case "ping":
		c.sendControl(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	case "subscribe":
		c.registry.Subscribe(c, msg.Topic)
		c.sendControl(map[string]interface{}{
			"type":      "subscription_confirmed",
			"topic":     msg.Topic,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	case "unsubscribe":
		c.registry.Unsubscribe(c, msg.Topic)
		c.sendControl(map[string]interface{}{
			"type":      "unsubscribed",
			"topic":     msg.Topic,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	case "get_stats":
		c.sendControl(map[string]interface{}{
			"type": "stats",
			"data": map[string]interface{}{
				"connection_info": c.registry.connectionInfo(c),
				"system_stats":    c.registry.Stats(),
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	default:
		c.sendControl(map[string]interface{}{
			"type":      "error",
			"message":   fmt.Sprintf("unknown message type: %s", msg.Type),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// sendControl queues a control frame without blocking. Control frames
// share the outbound buffer with notifications; a full buffer drops
// the frame rather than the connection.
func (c *Client) sendControl(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal control frame",
			slog.String("error", err.Error()))
		return
	}
	if !c.trySend(data) {
		c.logger.Warn("dropping control frame, client closed or buffer full")
	}
}

// WritePump pumps queued payloads to the websocket connection
func (c *Client) WritePump() {
	pingPeriod := (c.pongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("client write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// The registry closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("error writing message to websocket",
					slog.String("error", err.Error()))
				return
			}

			// Drain any queued payloads as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						c.logger.Error("error writing queued message to websocket",
							slog.String("error", err.Error()))
						return
					}
				default:
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping message",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// ServeWS wires an upgraded connection into the registry and starts
// its pumps.
func ServeWS(registry *Registry, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	client := NewClient(registry, conn, userID, logger)
	registry.Connect(client)

	go client.WritePump()
	go client.ReadPump()

	return client
}
