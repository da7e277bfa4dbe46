package chathub

import "productchat/backend/internal/models"

// Client is the interface for any type of live connection (e.g., WebSocket).
// It abstracts the underlying communication mechanism, allowing the registry to
// fan out to different client types uniformly.
type Client interface {
	// GetConnID returns the identity of this connection. A reconnect gets a new one.
	GetConnID() string
	// GetUserID returns the user the connection belongs to, empty when unknown.
	GetUserID() string

	// GetSendChannel returns the channel the registry writes outbound events to.
	// Writers must never block on it.
	GetSendChannel() chan<- models.ChatEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the connection and its send channel. It is called only
	// after the connection has left every room.
	Close()
}

// trySend delivers ev without blocking. It reports false when the client's
// buffer is full.
func trySend(c Client, ev models.ChatEvent) bool {
	select {
	case c.GetSendChannel() <- ev:
		return true
	default:
		return false
	}
}
