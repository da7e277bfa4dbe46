package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"productchat/backend/internal/models"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrChatNotFound is returned by write operations that reference an unknown chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotParticipant is returned when a user acts on a chat they are not part of.
	ErrNotParticipant = errors.New("user is not a participant of this chat")
)

// ChatStore is the durable record of chat sessions and their histories.
// Read operations degrade to empty results; AppendMessage and GetSession
// report ErrChatNotFound for an unknown chat.
type ChatStore interface {
	ListSessionsFor(userID string) ([]models.ChatSummary, error)
	// FindOrCreate returns the session for the product and the unordered pair,
	// creating it on first miss. The bool reports whether it was created.
	FindOrCreate(userA, userB, productID string) (*models.ChatSession, bool, error)
	GetSession(chatID uint) (*models.ChatSession, error)
	ListMessages(chatID uint) ([]models.Message, error)
	AppendMessage(chatID uint, senderID, text string) (*models.Message, error)
	// MarkRead moves userID's read watermark to the chat's newest message and
	// returns the watermark.
	MarkRead(chatID uint, userID string) (uint, error)
}

// Service is the PostgreSQL-backed ChatStore.
type Service struct {
	DB  *gorm.DB
	Ctx context.Context

	now func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:  db,
		Ctx: context.Background(),
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate створює або оновлює таблиці чатів і повідомлень.
func (s *Service) Migrate() error {
	return s.DB.WithContext(s.Ctx).AutoMigrate(&models.ChatSession{}, &models.Message{})
}

// FindOrCreate relies on the unique pair index: a concurrent creator on another
// connection or instance makes our insert fail with a duplicate key, after which
// the winner's row is read back.
func (s *Service) FindOrCreate(userA, userB, productID string) (*models.ChatSession, bool, error) {
	u1, u2 := models.NormalizePair(userA, userB)
	where := models.ChatSession{ProductID: productID, User1ID: u1, User2ID: u2}

	var chat models.ChatSession
	result := s.DB.WithContext(s.Ctx).Where(&where).FirstOrCreate(&chat)
	if result.Error == nil {
		chat.Participants = []string{chat.User1ID, chat.User2ID}
		if result.RowsAffected > 0 {
			log.Printf("INFO: Created chat %d for product %s between %s and %s.", chat.ID, productID, u1, u2)
		}
		return &chat, result.RowsAffected > 0, nil
	}
	if !isDuplicateKey(result.Error) {
		log.Printf("ERROR: Failed to find or create chat for product %s: %v", productID, result.Error)
		return nil, false, result.Error
	}

	// Програли гонку: запис уже створено іншим викликом.
	chat = models.ChatSession{}
	if err := s.DB.WithContext(s.Ctx).Where(&where).First(&chat).Error; err != nil {
		return nil, false, err
	}
	return &chat, false, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var coded interface{ SQLState() string }
	return errors.As(err, &coded) && coded.SQLState() == "23505"
}

// GetSession returns the chat with the given ID.
func (s *Service) GetSession(chatID uint) (*models.ChatSession, error) {
	var chat models.ChatSession
	err := s.DB.WithContext(s.Ctx).First(&chat, chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
	}
	if err != nil {
		log.Printf("ERROR: Failed to get chat %d: %v", chatID, err)
		return nil, err
	}
	return &chat, nil
}

// ListSessionsFor returns the user's chats, most recently active first,
// each with its latest message.
func (s *Service) ListSessionsFor(userID string) ([]models.ChatSummary, error) {
	var chats []models.ChatSession
	err := s.DB.WithContext(s.Ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("id DESC").
		Find(&chats).Error
	if err != nil {
		log.Printf("ERROR: Failed to list chats for user %s: %v", userID, err)
		return nil, err
	}
	if len(chats) == 0 {
		return []models.ChatSummary{}, nil
	}

	// Останнє повідомлення кожного чату одним запитом (DISTINCT ON, PostgreSQL).
	var latest []models.Message
	rawSQL := `
        SELECT DISTINCT ON (chat_id) *
        FROM messages
        WHERE chat_id IN ?
        ORDER BY chat_id, sent_at DESC, id DESC
    `
	ids := lo.Map(chats, func(c models.ChatSession, _ int) uint { return c.ID })
	if err := s.DB.WithContext(s.Ctx).Raw(rawSQL, ids).Scan(&latest).Error; err != nil {
		log.Printf("ERROR: Failed to load last messages for user %s: %v", userID, err)
		return nil, err
	}
	byChat := lo.KeyBy(latest, func(m models.Message) uint { return m.ChatID })

	unread, err := s.unreadCounts(userID, ids)
	if err != nil {
		log.Printf("ERROR: Failed to count unread messages for user %s: %v", userID, err)
		return nil, err
	}

	return lo.Map(chats, func(c models.ChatSession, _ int) models.ChatSummary {
		summary := models.ChatSummary{ChatSession: c, UnreadCount: unread[c.ID]}
		if last, ok := byChat[c.ID]; ok {
			summary.LastMessage = &last
		}
		return summary
	}), nil
}

type unreadRow struct {
	ChatID uint
	Unread int
}

// unreadCounts counts, per chat, the messages from the other participant
// newer than userID's read watermark.
func (s *Service) unreadCounts(userID string, chatIDs []uint) (map[uint]int, error) {
	var rows []unreadRow
	rawSQL := `
        SELECT m.chat_id, COUNT(*) AS unread
        FROM messages m
        JOIN chat_sessions c ON c.id = m.chat_id
        WHERE m.chat_id IN ?
          AND m.sender_id <> ?
          AND m.id > CASE WHEN c.user1_id = ? THEN c.user1_last_read_id ELSE c.user2_last_read_id END
        GROUP BY m.chat_id
    `
	if err := s.DB.WithContext(s.Ctx).Raw(rawSQL, chatIDs, userID, userID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return lo.SliceToMap(rows, func(r unreadRow) (uint, int) { return r.ChatID, r.Unread }), nil
}

// MarkRead takes the chat's row lock, so the watermark never skips a message
// appended concurrently.
func (s *Service) MarkRead(chatID uint, userID string) (uint, error) {
	var lastRead uint

	err := s.DB.WithContext(s.Ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, chatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
		}
		if err != nil {
			return err
		}
		if !chat.HasParticipant(userID) {
			return fmt.Errorf("user %s in chat %d: %w", userID, chatID, ErrNotParticipant)
		}

		var newest uint
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(id), 0)").
			Scan(&newest).Error; err != nil {
			return err
		}

		chat.MarkReadUpTo(userID, newest)
		lastRead = chat.LastReadID(userID)
		return tx.Model(&models.ChatSession{}).
			Where("id = ?", chatID).
			Updates(map[string]any{
				"user1_last_read_id": chat.User1LastReadID,
				"user2_last_read_id": chat.User2LastReadID,
			}).Error
	})
	if err != nil {
		if !errors.Is(err, ErrChatNotFound) && !errors.Is(err, ErrNotParticipant) {
			log.Printf("ERROR: Failed to mark chat %d read for %s: %v", chatID, userID, err)
		}
		return 0, err
	}
	return lastRead, nil
}

// ListMessages returns the full ordered history, empty for an unknown chat.
func (s *Service) ListMessages(chatID uint) ([]models.Message, error) {
	var history []models.Message
	if err := s.DB.WithContext(s.Ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at asc").
		Order("id asc").
		Find(&history).Error; err != nil {
		log.Printf("ERROR: Failed to get history for chat %d: %v", chatID, err)
		return nil, err
	}
	if history == nil {
		history = []models.Message{}
	}
	return history, nil
}

// AppendMessage stores a message under a row lock on its chat, so appends to
// one chat are serialized and their timestamps never go backwards.
func (s *Service) AppendMessage(chatID uint, senderID, text string) (*models.Message, error) {
	var msg models.Message

	err := s.DB.WithContext(s.Ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, chatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat %d: %w", chatID, ErrChatNotFound)
		}
		if err != nil {
			return err
		}

		ts := s.now()
		if chat.LastMessageAt != nil && ts.Before(*chat.LastMessageAt) {
			ts = *chat.LastMessageAt
		}

		msg = models.Message{
			ChatID:    chatID,
			SenderID:  senderID,
			Text:      text,
			Timestamp: ts,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		return tx.Model(&models.ChatSession{}).
			Where("id = ?", chatID).
			Update("last_message_at", ts).Error
	})
	if err != nil {
		if !errors.Is(err, ErrChatNotFound) {
			log.Printf("ERROR: Failed to save message for chat %d: %v", chatID, err)
		}
		return nil, err
	}

	return &msg, nil
}
