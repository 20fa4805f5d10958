package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"egc/internal/config"
	"egc/internal/infrastructure"
	"egc/internal/middleware"
)

// HandlerConfig wires the upgrade endpoint.
type HandlerConfig struct {
	WebSocket      config.WebSocketConfig
	Session        SessionConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler upgrades requests on /ws and attaches a Client to the hub.
type Handler struct {
	hub      *Hub
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger.With(slog.String("handler", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts same-host requests, requests without an Origin header
// and the configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	return middleware.OriginAllowed(h.cfg.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("remote_addr", middleware.GetRealIP(r)),
			slog.String("error", err.Error()))
		return
	}

	// The session outlives the upgrade request but keeps its trace id.
	sessionCtx := context.WithoutCancel(ctx)
	if id := middleware.GetRequestID(ctx); id != "" {
		sessionCtx = infrastructure.WithTraceID(sessionCtx, id)
	}

	client := NewClient(sessionCtx, h.hub, NewConnection(conn), h.cfg.WebSocket, h.cfg.Session, h.logger)
	h.logger.InfoContext(sessionCtx, "websocket connection accepted",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", middleware.GetRealIP(r)))
	client.Start()
}
