package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests onto the signal feed
type Handler struct {
	logger   *zap.Logger
	hub      *SignalHub
	upgrader websocket.Upgrader
}

// NewHandler creates a feed handler. With no allowed origins every origin is
// accepted; otherwise the Origin host must match one of them.
func NewHandler(hub *SignalHub, logger *zap.Logger, allowedOrigins ...string) *Handler {
	return &Handler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		hosts[strings.ToLower(origin)] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Host)]
		return ok
	}
}

// ServeHTTP handles GET /ws/signals
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewSignalClient(conn, h.hub, r.RemoteAddr)
	if !h.hub.RegisterClient(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "signal feed unavailable"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
