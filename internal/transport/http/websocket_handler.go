package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	apierrors "invoiceflow/internal/errors"
	ws "invoiceflow/internal/websocket"
)

// WebSocketHandler upgrades HTTP requests to websocket connections and
// hands them to the registry.
type WebSocketHandler struct {
	registry *ws.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a websocket upgrade handler
func NewWebSocketHandler(registry *ws.Registry, readBuffer, writeBuffer int, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if readBuffer <= 0 {
		readBuffer = 1024
	}
	if writeBuffer <= 0 {
		writeBuffer = 1024
	}

	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			// Authentication happens at the edge proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("handler", "websocket")),
	}
}

// ServeHTTP handles GET /ws. The user is identified by the X-User-ID
// header or, for browser clients that cannot set headers on the
// upgrade request, the user_id query parameter.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Error("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	client := ws.ServeWS(h.registry, conn, userID, h.logger)
	h.logger.Info("websocket connection established",
		slog.String("client_id", client.ID()),
		slog.String("user_id", userID),
		slog.String("remote_addr", r.RemoteAddr))
}
