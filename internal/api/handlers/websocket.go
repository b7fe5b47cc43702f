package handlers

import (
	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/codeclash/codeclash-backend/internal/api/middleware"
	"github.com/codeclash/codeclash-backend/internal/service"
	"github.com/codeclash/codeclash-backend/internal/websocket"
)

type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
}

func NewWebSocketHandler(hub *websocket.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket upgrades an authenticated request into a hub client.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
		return
	}

	websocket.ServeWs(h.hub, &h.upgrader, c.Writer, c.Request, userID)
}
