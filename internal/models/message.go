package models

import "time"

// Message is a single entry of a chat history. It is immutable once stored.
type Message struct {
	// ID is assigned by the store at append time.
	ID uint `gorm:"primaryKey" json:"id"`
	// ChatID references the owning ChatSession.
	ChatID uint `gorm:"not null;index:idx_chat_msg,priority:1" json:"chat_id"`
	// SenderID is one of the owning session's participants.
	SenderID string `gorm:"type:text;not null" json:"sender"`
	// Text is the opaque message payload.
	Text string `gorm:"type:text;not null" json:"text"`
	// Timestamp is assigned by the store and never decreases within a chat.
	Timestamp time.Time `gorm:"column:sent_at;not null;index:idx_chat_msg,priority:2" json:"timestamp"`
}
