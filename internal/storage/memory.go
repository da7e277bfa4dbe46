package storage

import (
	"fmt"
	"productchat/backend/internal/models"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// MemoryStore is an in-process ChatStore. It is the default backend when no
// database is configured and the reference implementation in tests.
//
// mu guards the session index; each session has its own lock for its history,
// so appends to different chats run in parallel. Lock order is mu, then a
// session lock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uint]*memorySession
	byKey    map[string]uint
	order    []uint
	nextChat uint
	nextMsg  atomic.Uint64

	now func() time.Time
}

type memorySession struct {
	mu       sync.Mutex
	chat     models.ChatSession
	messages []models.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uint]*memorySession),
		byKey:    make(map[string]uint),
		now:      time.Now,
	}
}

// FindOrCreate holds the index lock across the check and the insert, so
// racing callers with the same key always observe one session.
func (m *MemoryStore) FindOrCreate(userA, userB, productID string) (*models.ChatSession, bool, error) {
	key := models.SessionKey(userA, userB, productID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		return m.sessions[id].snapshot(), false, nil
	}

	m.nextChat++
	chat := models.NewChatSession(userA, userB, productID)
	chat.ID = m.nextChat
	chat.CreatedAt = m.now()

	m.sessions[chat.ID] = &memorySession{chat: *chat, messages: []models.Message{}}
	m.byKey[key] = chat.ID
	m.order = append(m.order, chat.ID)

	return m.sessions[chat.ID].snapshot(), true, nil
}

// GetSession returns the chat with the given ID.
func (m *MemoryStore) GetSession(chatID uint) (*models.ChatSession, error) {
	s := m.lookup(chatID)
	if s == nil {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}
	return s.snapshot(), nil
}

// ListSessionsFor never fails; a user without chats gets an empty slice.
func (m *MemoryStore) ListSessionsFor(userID string) ([]models.ChatSummary, error) {
	m.mu.RLock()
	matched := make([]*memorySession, 0)
	for _, id := range m.order {
		s := m.sessions[id]
		if s.chat.HasParticipant(userID) {
			matched = append(matched, s)
		}
	}
	m.mu.RUnlock()

	summaries := make([]models.ChatSummary, 0, len(matched))
	for _, s := range matched {
		summaries = append(summaries, s.summary(userID))
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivity().After(summaries[j].LastActivity())
	})
	return summaries, nil
}

// ListMessages returns a copy of the history, empty for an unknown chat.
func (m *MemoryStore) ListMessages(chatID uint) ([]models.Message, error) {
	s := m.lookup(chatID)
	if s == nil {
		return []models.Message{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]models.Message, len(s.messages))
	copy(history, s.messages)
	return history, nil
}

// AppendMessage clamps the new timestamp to the previous one so the history
// stays ordered even if the wall clock steps back.
func (m *MemoryStore) AppendMessage(chatID uint, senderID, text string) (*models.Message, error) {
	s := m.lookup(chatID)
	if s == nil {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := m.now()
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp
	}

	msg := models.Message{
		ID:        uint(m.nextMsg.Add(1)),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: ts,
	}
	s.messages = append(s.messages, msg)
	s.chat.LastMessageAt = &ts

	return &msg, nil
}

// MarkRead marks everything currently in the chat as read by userID.
func (m *MemoryStore) MarkRead(chatID uint, userID string) (uint, error) {
	s := m.lookup(chatID)
	if s == nil {
		return 0, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.chat.HasParticipant(userID) {
		return 0, fmt.Errorf("user %s in chat %d: %w", userID, chatID, ErrNotParticipant)
	}
	if n := len(s.messages); n > 0 {
		s.chat.MarkReadUpTo(userID, s.messages[n-1].ID)
	}
	return s.chat.LastReadID(userID), nil
}

func (m *MemoryStore) lookup(chatID uint) *memorySession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[chatID]
}

func (s *memorySession) snapshot() *models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyChat()
}

func (s *memorySession) summary(userID string) models.ChatSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := models.ChatSummary{ChatSession: *s.copyChat()}
	if n := len(s.messages); n > 0 {
		last := s.messages[n-1]
		summary.LastMessage = &last
	}
	lastRead := s.chat.LastReadID(userID)
	summary.UnreadCount = lo.CountBy(s.messages, func(msg models.Message) bool {
		return models.IsUnreadFor(msg, userID, lastRead)
	})
	return summary
}

// copyChat expects s.mu to be held.
func (s *memorySession) copyChat() *models.ChatSession {
	chat := s.chat
	chat.Participants = []string{chat.User1ID, chat.User2ID}
	if s.chat.LastMessageAt != nil {
		ts := *s.chat.LastMessageAt
		chat.LastMessageAt = &ts
	}
	return &chat
}
