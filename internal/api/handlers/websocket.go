package handlers

import (
	"log/slog"

	"presence-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub       *websocket.Hub
	queueSize int
}

func NewWSHandler(hub *websocket.Hub, queueSize int) *WSHandler {
	return &WSHandler{hub: hub, queueSize: queueSize}
}

// HandleWebSocket upgrades an authenticated request to the presence push
// channel and registers the connection with the hub.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := c.MustGet("user_id").(string)
	tenantID := c.MustGet("tenant_id").(string)

	conn, err := websocket.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "userID", userID, "error", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, userID, tenantID, h.queueSize)
	h.hub.Register(client)
	client.Start()

	slog.Info("WebSocket connection established", "clientID", client.ID(), "userID", userID, "tenantID", tenantID)
}
