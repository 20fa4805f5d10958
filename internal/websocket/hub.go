package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"egc/internal/infrastructure"
	"egc/internal/operations"
	"egc/pkg/contracts/events"
)

// Message types sent by the hub. Session events are sent bare, with the
// ingestion event type as their type.
const (
	TypeConnection = "connection"
	TypeJob        = "job"
)

// JobMessage is the broadcast envelope for background job events.
type JobMessage struct {
	Type      string               `json:"type"`
	JobID     string               `json:"jobId"`
	Status    operations.JobStatus `json:"status"`
	Progress  int                  `json:"progress"`
	Event     *events.Event        `json:"event,omitempty"`
	Timestamp string               `json:"timestamp"`
}

// HubStats is a point-in-time view of the hub counters.
type HubStats struct {
	ActiveClients    int   `json:"activeClients"`
	TotalConnections int64 `json:"totalConnections"`
	MessagesSent     int64 `json:"messagesSent"`
	SlowDisconnects  int64 `json:"slowDisconnects"`
}

// Hub tracks connected clients and fans job broadcasts out to all of them.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	slowDisconnects  atomic.Int64

	quit      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		metrics:    metrics,
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the hub loop.
func (h *Hub) Start() {
	h.startOnce.Do(func() { go h.run() })
}

// Stop disconnects every client and waits for the loop to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	h.startOnce.Do(func() { close(h.stopped) })
	<-h.stopped
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.shutdown()
				h.connectionChange(-1)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.totalConnections.Add(1)
			h.connectionChange(1)

			h.logger.InfoContext(c.ctx(), "client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			delete(h.clients, c)
			count := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			h.connectionChange(-1)
			h.logger.InfoContext(c.ctx(), "client unregistered",
				slog.String("client_id", c.id),
				slog.Int("total_clients", count),
				slog.Duration("connection_duration", time.Since(c.connectedAt)))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut delivers msg to every client. A client whose buffer is full is
// disconnected rather than allowed to stall the hub.
func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.trySend(msg) {
			h.messagesSent.Add(1)
			continue
		}
		h.slowDisconnects.Add(1)
		h.logger.WarnContext(c.ctx(), "client send buffer full, disconnecting",
			slog.String("client_id", c.id))
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			h.connectionChange(-1)
		}
		h.mu.Unlock()
		c.shutdown()
	}
}

func (h *Hub) connectionChange(delta int64) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebSocketConnections.Add(context.Background(), delta)
}

// Broadcast queues a raw message for every client. It drops the message once
// the hub has stopped.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
	}
}

// BroadcastJobEvent implements operations.Broadcaster.
func (h *Hub) BroadcastJobEvent(ev operations.JobEvent) {
	data, err := json.Marshal(JobMessage{
		Type:      TypeJob,
		JobID:     ev.JobID,
		Status:    ev.Status,
		Progress:  ev.Progress,
		Event:     ev.Event,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Error("failed to marshal job event",
			slog.String("job_id", ev.JobID),
			slog.String("error", err.Error()))
		return
	}
	h.Broadcast(data)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		ActiveClients:    h.ClientCount(),
		TotalConnections: h.totalConnections.Load(),
		MessagesSent:     h.messagesSent.Load(),
		SlowDisconnects:  h.slowDisconnects.Load(),
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

var _ operations.Broadcaster = (*Hub)(nil)
