package websocket

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"invoiceflow/internal/infrastructure"
)

// Registry tracks live connections and their user/topic indexes. All
// index mutations happen under the registry mutex; payload delivery is
// a non-blocking send into the client's buffered channel so a slow
// consumer never stalls the caller.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[string]map[string]*Client
	byTopic map[string]map[string]*Client

	logger  *slog.Logger
	metrics *Metrics

	sendBuffer    int
	idleThreshold time.Duration
	sweepInterval time.Duration
	pongWait      time.Duration
	writeWait     time.Duration

	totalConnections int64
	messagesSent     int64
	deliveryFailures int64
}

// RegistryOptions configures registry buffers and the liveness sweep
type RegistryOptions struct {
	SendBuffer    int
	IdleThreshold time.Duration
	SweepInterval time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
}

// NewRegistry creates a connection registry with dependency injection.
// metrics may be nil when OpenTelemetry is disabled.
func NewRegistry(opts RegistryOptions, logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}

	return &Registry{
		clients:       make(map[string]*Client),
		byUser:        make(map[string]map[string]*Client),
		byTopic:       make(map[string]map[string]*Client),
		logger:        logger.With(slog.String("component", "websocket.registry")),
		metrics:       metrics,
		sendBuffer:    opts.SendBuffer,
		idleThreshold: opts.IdleThreshold,
		sweepInterval: opts.SweepInterval,
		pongWait:      opts.PongWait,
		writeWait:     opts.WriteWait,
	}
}

// Connect registers a client, subscribes it to its personal user topic
// and acknowledges the connection.
func (r *Registry) Connect(client *Client) {
	r.mu.Lock()
	r.clients[client.id] = client

	if r.byUser[client.userID] == nil {
		r.byUser[client.userID] = make(map[string]*Client)
	}
	r.byUser[client.userID][client.id] = client

	userTopic := "user:" + client.userID
	client.topics[userTopic] = true
	if r.byTopic[userTopic] == nil {
		r.byTopic[userTopic] = make(map[string]*Client)
	}
	r.byTopic[userTopic][client.id] = client

	r.totalConnections++
	count := len(r.clients)
	r.mu.Unlock()

	ctx := context.Background()
	r.logger.InfoContext(ctx, "client connected",
		slog.String("client_id", client.id),
		slog.String("user_id", client.userID),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("total_clients", count))

	if r.metrics != nil {
		r.metrics.RecordConnection(ctx)
		r.metrics.RecordClientCount(ctx, int64(count))
	}

	client.sendControl(map[string]interface{}{
		"type":      "connection_established",
		"client_id": client.id,
		"user_id":   client.userID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Disconnect removes a client and all of its index entries. Safe to
// call more than once for the same client.
func (r *Registry) Disconnect(client *Client) {
	r.mu.Lock()
	if _, ok := r.clients[client.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, client.id)

	if conns := r.byUser[client.userID]; conns != nil {
		delete(conns, client.id)
		if len(conns) == 0 {
			delete(r.byUser, client.userID)
		}
	}
	for topic := range client.topics {
		if subs := r.byTopic[topic]; subs != nil {
			delete(subs, client.id)
			if len(subs) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	count := len(r.clients)
	r.mu.Unlock()

	client.closeSend()

	ctx := context.Background()
	r.logger.InfoContext(ctx, "client disconnected",
		slog.String("client_id", client.id),
		slog.String("user_id", client.userID),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))

	if r.metrics != nil {
		r.metrics.RecordDisconnection(ctx, time.Since(client.connectedAt))
		r.metrics.RecordClientCount(ctx, int64(count))
	}
}

// Subscribe adds the client to a topic. Subscribing twice is a no-op.
func (r *Registry) Subscribe(client *Client, topic string) {
	if topic == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.clients[client.id]; !ok {
		r.mu.Unlock()
		return
	}
	client.topics[topic] = true
	if r.byTopic[topic] == nil {
		r.byTopic[topic] = make(map[string]*Client)
	}
	r.byTopic[topic][client.id] = client
	r.mu.Unlock()

	r.logger.Debug("client subscribed",
		slog.String("client_id", client.id),
		slog.String("topic", topic))
}

// Unsubscribe removes the client from a topic
func (r *Registry) Unsubscribe(client *Client, topic string) {
	r.mu.Lock()
	delete(client.topics, topic)
	if subs := r.byTopic[topic]; subs != nil {
		delete(subs, client.id)
		if len(subs) == 0 {
			delete(r.byTopic, topic)
		}
	}
	r.mu.Unlock()

	r.logger.Debug("client unsubscribed",
		slog.String("client_id", client.id),
		slog.String("topic", topic))
}

// SendTo delivers the payload to a single connection. Returns false when
// the connection is unknown or its buffer is full.
func (r *Registry) SendTo(connectionID string, payload []byte) bool {
	r.mu.RLock()
	client, ok := r.clients[connectionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.deliverAll([]*Client{client}, payload) == 1
}

// SendToUser delivers the payload to every connection of the user and
// returns how many accepted it.
func (r *Registry) SendToUser(userID string, payload []byte) int {
	r.mu.RLock()
	targets := collect(r.byUser[userID])
	r.mu.RUnlock()
	return r.deliverAll(targets, payload)
}

// BroadcastToTopic delivers the payload to every subscriber of the
// topic and returns how many accepted it.
func (r *Registry) BroadcastToTopic(topic string, payload []byte) int {
	r.mu.RLock()
	targets := collect(r.byTopic[topic])
	r.mu.RUnlock()
	return r.deliverAll(targets, payload)
}

// BroadcastAll delivers the payload to every connection
func (r *Registry) BroadcastAll(payload []byte) int {
	r.mu.RLock()
	targets := collect(r.clients)
	r.mu.RUnlock()
	return r.deliverAll(targets, payload)
}

func collect(m map[string]*Client) []*Client {
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// deliverAll sends without holding the registry lock so a removal
// triggered by a full buffer cannot deadlock. Sends go through the
// client's trySend so a concurrent disconnect cannot race the channel
// close.
func (r *Registry) deliverAll(targets []*Client, payload []byte) int {
	delivered := 0
	for _, client := range targets {
		if client.trySend(payload) {
			delivered++
			r.mu.Lock()
			r.messagesSent++
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.RecordMessageSent(context.Background(), int64(len(payload)))
			}
			continue
		}

		r.mu.Lock()
		r.deliveryFailures++
		r.mu.Unlock()
		r.logger.Warn("client send failed, disconnecting",
			slog.String("client_id", client.id),
			slog.String("user_id", client.userID))
		if r.metrics != nil {
			r.metrics.RecordDeliveryFailure(context.Background())
		}
		r.Disconnect(client)
	}
	return delivered
}

// Sweep disconnects clients idle past the threshold and returns how
// many were removed.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.idleThreshold)

	r.mu.RLock()
	stale := make([]*Client, 0)
	for _, client := range r.clients {
		if client.lastActiveTime().Before(cutoff) {
			stale = append(stale, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range stale {
		r.logger.Info("sweeping idle client",
			slog.String("client_id", client.id),
			slog.String("user_id", client.userID),
			slog.Time("last_active", client.lastActiveTime()))
		client.conn.Close()
		r.Disconnect(client)
	}
	return len(stale)
}

// RunSweeper periodically runs the liveness sweep until the context is
// cancelled. Intended to run as a background goroutine.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sweeper shutting down")
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.Info("liveness sweep removed idle clients",
					slog.Int("removed", removed))
			}
		}
	}
}

// connectionInfo describes one connection for the stats reply. Topics
// are read under the registry lock since Subscribe mutates them there.
func (r *Registry) connectionInfo(client *Client) map[string]interface{} {
	r.mu.RLock()
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	r.mu.RUnlock()
	sort.Strings(topics)

	return map[string]interface{}{
		"client_id":     client.id,
		"user_id":       client.userID,
		"connected_at":  client.connectedAt.UTC().Format(time.RFC3339),
		"subscriptions": topics,
	}
}

// ClientCount returns the number of live connections
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stats returns registry counters for the get_stats client command and
// the health endpoint.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topicCounts := make(map[string]int, len(r.byTopic))
	for topic, subs := range r.byTopic {
		topicCounts[topic] = len(subs)
	}

	return map[string]interface{}{
		"active_connections": len(r.clients),
		"unique_users":       len(r.byUser),
		"topics":             topicCounts,
		"total_connections":  r.totalConnections,
		"messages_sent":      r.messagesSent,
		"delivery_failures":  r.deliveryFailures,
	}
}

// CloseAll disconnects every client, used during graceful shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	targets := collect(r.clients)
	r.mu.RUnlock()

	for _, client := range targets {
		client.conn.Close()
		r.Disconnect(client)
	}
}
