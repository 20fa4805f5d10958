package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"egc/internal/config"
	"egc/internal/infrastructure"
	"egc/pkg/contracts/events"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Client is one WebSocket connection. It owns an ingestion session: commands
// read from the peer go to the session's worker and the worker's events are
// written back, interleaved with hub broadcasts.
type Client struct {
	hub  *Hub
	conn Connection
	cfg  config.WebSocketConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	session *session
	logger  *slog.Logger
}

// NewClient creates a client for conn. ctx carries the trace id and bounds
// the session; it should not be the request context of the upgrade.
func NewClient(ctx context.Context, hub *Hub, conn Connection, cfg config.WebSocketConfig, ingestCfg SessionConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	cfg = withDefaults(cfg)

	id := uuid.New().String()
	traceID := infrastructure.GetTraceID(ctx)
	if traceID == "" {
		traceID = id
		ctx = infrastructure.WithTraceID(ctx, traceID)
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &Client{
		hub:         hub,
		conn:        conn,
		cfg:         cfg,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		baseCtx:     ctx,
		cancel:      cancel,
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
	c.session = newSession(ingestCfg, cfg.SilenceTimeout, c.sendEvent, c.logger)
	return c
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	return cfg
}

// ID returns the client id sent in the connection greeting.
func (c *Client) ID() string { return c.id }

func (c *Client) ctx() context.Context { return c.baseCtx }

// Start registers the client with the hub and runs the pumps. It returns
// immediately; the client cleans up after itself when the peer goes away.
func (c *Client) Start() {
	if !c.hub.add(c) {
		c.shutdown()
		_ = c.conn.Close()
		return
	}
	c.sendJSON(map[string]any{
		"type":      TypeConnection,
		"status":    "connected",
		"clientId":  c.id,
		"traceId":   c.traceID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	c.session.start(c.baseCtx)
	go c.WritePump()
	go c.ReadPump()
}

// shutdown stops the pumps and the session. Safe to call more than once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// trySend queues msg without blocking.
func (c *Client) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// queue waits for buffer space, giving up when the client shuts down.
func (c *Client) queue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.ErrorContext(c.baseCtx, "failed to marshal message", slog.String("error", err.Error()))
		return false
	}
	return c.queue(data)
}

func (c *Client) sendEvent(ev events.Event) bool { return c.sendJSON(ev) }

// ReadPump reads commands from the peer until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.logger.InfoContext(c.baseCtx, "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		c.shutdown()
		c.hub.remove(c)
		_ = c.conn.Close()
		c.session.close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.baseCtx, "unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		c.handleMessage(bytes.TrimSpace(message))
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(message, &msg) == nil && msg.Type == "heartbeat" {
		c.logger.Debug("heartbeat received")
		return
	}

	cmd, err := events.ParseCommand(message)
	if err != nil {
		c.logger.WarnContext(c.baseCtx, "rejected websocket command", slog.String("error", err.Error()))
		c.sendEvent(events.Error(err.Error()))
		return
	}
	c.logger.DebugContext(c.baseCtx, "websocket command",
		slog.String("command", string(cmd.Command)),
		slog.String("source", cmd.Source))
	if err := c.session.submit(c.baseCtx, cmd); err != nil {
		c.sendEvent(events.Error(err.Error()))
	}
}

// WritePump writes queued messages and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.WarnContext(c.baseCtx, "websocket write failed", slog.String("error", err.Error()))
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.baseCtx, "websocket ping failed", slog.String("error", err.Error()))
				c.shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
