// Package chat is the entry point the transport layer calls. It composes the
// store, the room registry and the gateway behind the request/response
// operations and hands live connections to the gateway.
package chat

import (
	"errors"
	"productchat/backend/internal/chathub"
	"productchat/backend/internal/models"
	"productchat/backend/internal/storage"

	"github.com/samber/lo"
)

// ErrInvalidParticipants is returned when a chat is requested for fewer than two distinct users.
var ErrInvalidParticipants = errors.New("a chat needs two different participants")

// Service is the chat facade.
type Service struct {
	Store   storage.ChatStore
	Gateway *chathub.Gateway
}

// NewService creates a facade over store. broadcaster may be nil for local
// fan-out only.
func NewService(store storage.ChatStore, registry *chathub.Registry, broadcaster chathub.Broadcaster) *Service {
	return &Service{
		Store:   store,
		Gateway: chathub.NewGateway(store, registry, broadcaster),
	}
}

// ListChats returns every chat userID takes part in.
func (s *Service) ListChats(userID string) ([]models.ChatSummary, error) {
	return s.Store.ListSessionsFor(userID)
}

// FindOrCreate returns the chat for the product and participant pair. The
// bool reports whether it was created by this call.
func (s *Service) FindOrCreate(userA, userB, productID string) (*models.ChatSession, bool, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, false, ErrInvalidParticipants
	}
	return s.Store.FindOrCreate(userA, userB, productID)
}

// ListMessages returns a chat's history, empty for an unknown chat.
func (s *Service) ListMessages(chatID uint) ([]models.Message, error) {
	return s.Store.ListMessages(chatID)
}

// PostMessage stores and broadcasts a message exactly as a live send does.
func (s *Service) PostMessage(chatID uint, senderID, text string) (*models.Message, error) {
	return s.Gateway.Publish(chatID, senderID, text)
}

// MarkRead marks every message currently in the chat as read by userID and
// returns the new watermark.
func (s *Service) MarkRead(chatID uint, userID string) (uint, error) {
	return s.Store.MarkRead(chatID, userID)
}

// UnreadCount sums the unread messages over all of userID's chats.
func (s *Service) UnreadCount(userID string) (int, error) {
	chats, err := s.Store.ListSessionsFor(userID)
	if err != nil {
		return 0, err
	}
	return lo.SumBy(chats, func(c models.ChatSummary) int { return c.UnreadCount }), nil
}

// Connect attaches a live connection.
func (s *Service) Connect(c chathub.Client) *chathub.Session {
	return s.Gateway.Connect(c)
}
