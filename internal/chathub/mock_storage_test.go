package chathub_test

import (
	"productchat/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.ChatStore.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) ListSessionsFor(userID string) ([]models.ChatSummary, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatSummary), args.Error(1)
}

func (m *MockStorage) FindOrCreate(userA, userB, productID string) (*models.ChatSession, bool, error) {
	args := m.Called(userA, userB, productID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.ChatSession), args.Bool(1), args.Error(2)
}

func (m *MockStorage) GetSession(chatID uint) (*models.ChatSession, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStorage) ListMessages(chatID uint) ([]models.Message, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) AppendMessage(chatID uint, senderID, text string) (*models.Message, error) {
	args := m.Called(chatID, senderID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) MarkRead(chatID uint, userID string) (uint, error) {
	args := m.Called(chatID, userID)
	return args.Get(0).(uint), args.Error(1)
}
