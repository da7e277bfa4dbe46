package handler

import (
	"log"
	"net/http"
	"productchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, err := h.identity(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Printf("WARNING: WebSocket upgrade failed: %v", err)
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Chat, userID, h.Config.SendBuffer)
	client.Run()
}
