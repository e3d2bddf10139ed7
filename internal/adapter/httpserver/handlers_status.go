package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/livewatch/internal/domain"
)

const maxViewerMessageSize = 512

type statusResponse struct {
	Channels map[string]domain.ChannelRecord `json:"channels"`
}

func (s *Server) registerStatusRoutes() {
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/ws", s.handleWebSocket)
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.renderTemplate(c, "index.html", nil)
}

func (s *Server) handleStatus(c echo.Context) error {
	snap := s.registry.Snapshot()
	if snap.Channels == nil {
		snap.Channels = map[string]domain.ChannelRecord{}
	}
	if err := c.JSON(http.StatusOK, statusResponse{Channels: snap.Channels}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the request and hands the connection to the hub,
// which owns all writes. This goroutine only reads, so client closes and
// pongs are noticed.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := c.Request().Context()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		slog.DebugContext(ctx, "WebSocket upgrade failed", "error", err)
		return nil
	}

	id, err := s.hub.Register(conn)
	if err != nil {
		slog.WarnContext(ctx, "Dashboard client rejected", "error", err)
		_ = conn.Close()
		return nil
	}
	defer s.hub.Unregister(id)

	conn.SetReadLimit(maxViewerMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "Dashboard client read failed", "client_id", id.String(), "error", err)
			}
			return nil
		}
	}
}
