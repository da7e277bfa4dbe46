package models

import "time"

// Event types of the live-connection protocol.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// ChatEvent is one frame exchanged over a live connection, in either direction.
type ChatEvent struct {
	Type      string     `json:"type"`
	ChatID    uint       `json:"chat_id,omitempty"`
	MessageID uint       `json:"message_id,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Text      string     `json:"text,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NewReceiveEvent builds the outbound receive_message frame for a stored message.
// The timestamp is the store-assigned one.
func NewReceiveEvent(msg Message) ChatEvent {
	ts := msg.Timestamp
	return ChatEvent{
		Type:      EventReceiveMessage,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Sender:    msg.SenderID,
		Text:      msg.Text,
		Timestamp: &ts,
	}
}

// NewErrorEvent builds an error frame addressed to a single connection.
func NewErrorEvent(chatID uint, reason string) ChatEvent {
	return ChatEvent{Type: EventError, ChatID: chatID, Error: reason}
}
