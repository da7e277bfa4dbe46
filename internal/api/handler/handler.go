package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"productchat/backend/internal/chat"
	"productchat/backend/internal/chathub"
	"productchat/backend/internal/config"
	"productchat/backend/internal/models"
	"productchat/backend/internal/storage"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler містить посилання на chat.Service
type Handler struct {
	Chat     *chat.Service
	Config   *config.Config
	upgrader websocket.Upgrader
}

func NewHandler(svc *chat.Service, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		Chat:   svc,
		Config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || cfg.OriginAllowed(origin)
			},
		},
	}
}

// RegisterRoutes wires every endpoint onto r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/anonid", h.GetAnonID)
	r.GET("/users/:user_id/chats", h.ListChats)
	r.GET("/users/:user_id/unread_count", h.UnreadCount)
	r.POST("/chats", h.FindOrCreateChat)
	r.GET("/chats/:chat_id/messages", h.ListMessages)
	r.POST("/chats/:chat_id/messages", h.PostMessage)
	r.POST("/chats/:chat_id/read", h.MarkRead)
	r.GET("/ws", h.ServeWebSocket)
}

type findOrCreateRequest struct {
	User1   string `json:"user1" binding:"required"`
	User2   string `json:"user2" binding:"required"`
	Product string `json:"product" binding:"required"`
}

type postMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type markReadRequest struct {
	User string `json:"user"`
}

// ListChats повертає всі чати користувача.
func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Chat.ListChats(c.Param("user_id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// FindOrCreateChat answers 201 when the chat was created and 200 when it already existed.
func (h *Handler) FindOrCreateChat(c *gin.Context) {
	var req findOrCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user1, user2 and product are required"})
		return
	}

	session, created, err := h.Chat.FindOrCreate(req.User1, req.User2, req.Product)
	if errors.Is(err, chat.ErrInvalidParticipants) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Participants must be two different users"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, session)
}

// ListMessages повертає історію чату; невідомий чат дає порожній масив.
// An id that is not a chat number cannot name a chat, so it reads as unknown.
func (h *Handler) ListMessages(c *gin.Context) {
	chatID, err := strconv.ParseUint(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, []models.Message{})
		return
	}

	history, err := h.Chat.ListMessages(uint(chatID))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// PostMessage stores a message and pushes it to the chat's live subscribers.
// A verified identity takes precedence over the sender in the body.
func (h *Handler) PostMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID, err := h.identity(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}
	if userID != "" {
		req.Sender = userID
	}
	if req.Sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sender is required"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	}

	msg, err := h.Chat.PostMessage(chatID, req.Sender, req.Text)
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, chathub.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "Sender is not a participant of this chat"})
	case err != nil:
		internalError(c, err)
	default:
		c.JSON(http.StatusCreated, msg)
	}
}

// MarkRead marks the chat read up to its newest message for the caller.
func (h *Handler) MarkRead(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req markReadRequest
	// Тіло необов'язкове, якщо користувача визначає токен.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID, err := h.identity(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}
	if userID != "" {
		req.User = userID
	}
	if req.User == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User is required"})
		return
	}

	lastRead, err := h.Chat.MarkRead(chatID, req.User)
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, storage.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "User is not a participant of this chat"})
	case err != nil:
		internalError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "last_read_message_id": lastRead})
	}
}

// UnreadCount повертає кількість непрочитаних повідомлень користувача.
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.Chat.UnreadCount(c.Param("user_id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func chatIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat id"})
		return 0, false
	}
	return uint(id), true
}

func internalError(c *gin.Context, err error) {
	log.Printf("ERROR: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
