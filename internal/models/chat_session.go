package models

import (
	"time"

	"gorm.io/gorm"
)

// ChatSession represents a two-party conversation about a single product.
// The participant pair is stored normalized (User1ID <= User2ID) so that the
// unique index on (product_id, user1_id, user2_id) matches regardless of the
// order in which the participants were supplied.
type ChatSession struct {
	// ID is assigned by the store on creation and never changes.
	ID uint `gorm:"primaryKey" json:"id"`
	// ProductID scopes the conversation topic.
	ProductID string `gorm:"type:text;not null;uniqueIndex:idx_chat_pair,priority:1" json:"product"`
	// User1ID is the lexically smaller participant.
	User1ID string `gorm:"type:text;not null;uniqueIndex:idx_chat_pair,priority:2;index" json:"-"`
	// User2ID is the lexically larger participant.
	User2ID string `gorm:"type:text;not null;uniqueIndex:idx_chat_pair,priority:3;index" json:"-"`
	// Participants is the JSON view of the pair, filled by NewChatSession and AfterFind.
	Participants []string `gorm:"-" json:"participants"`

	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"`

	// Read watermarks: the ID of the newest message each participant has read.
	User1LastReadID uint `gorm:"column:user1_last_read_id;not null;default:0" json:"-"`
	User2LastReadID uint `gorm:"column:user2_last_read_id;not null;default:0" json:"-"`
}

// NewChatSession builds an unsaved session with the participant pair normalized.
func NewChatSession(userA, userB, productID string) *ChatSession {
	u1, u2 := NormalizePair(userA, userB)
	return &ChatSession{
		ProductID:    productID,
		User1ID:      u1,
		User2ID:      u2,
		Participants: []string{u1, u2},
	}
}

// NormalizePair orders two user identifiers so that the pair compares equal
// whichever way round it was given.
func NormalizePair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// SessionKey is the find-or-create key of a session: product plus normalized pair.
func SessionKey(userA, userB, productID string) string {
	u1, u2 := NormalizePair(userA, userB)
	return productID + "\x00" + u1 + "\x00" + u2
}

// HasParticipant reports whether userID is one of the two participants.
func (c *ChatSession) HasParticipant(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// LastReadID returns the read watermark of userID, 0 if nothing was read.
func (c *ChatSession) LastReadID(userID string) uint {
	switch userID {
	case c.User1ID:
		return c.User1LastReadID
	case c.User2ID:
		return c.User2LastReadID
	}
	return 0
}

// MarkReadUpTo moves userID's watermark forward to messageID. It never moves it back.
func (c *ChatSession) MarkReadUpTo(userID string, messageID uint) {
	switch userID {
	case c.User1ID:
		c.User1LastReadID = max(c.User1LastReadID, messageID)
	case c.User2ID:
		c.User2LastReadID = max(c.User2LastReadID, messageID)
	}
}

// LastActivity is the time of the latest message, or the creation time for an empty chat.
func (c *ChatSession) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// AfterFind: хук GORM, заповнює Participants після завантаження з бази.
func (c *ChatSession) AfterFind(tx *gorm.DB) (err error) {
	c.Participants = []string{c.User1ID, c.User2ID}
	return
}

// ChatSummary is a session as listed for one of its participants.
type ChatSummary struct {
	ChatSession
	LastMessage *Message `json:"last_message"`
	// UnreadCount counts messages from the other participant past the listing user's watermark.
	UnreadCount int `json:"unread_count"`
}

// IsUnreadFor reports whether msg counts as unread for userID given its watermark.
func IsUnreadFor(msg Message, userID string, lastReadID uint) bool {
	return msg.SenderID != userID && msg.ID > lastReadID
}
