package chathub_test

import (
	"productchat/backend/internal/models"
	"sync"
	"time"
)

type MockClient struct {
	connID      string
	userID      string
	RecvChannel chan models.ChatEvent

	mu     sync.Mutex
	closed bool
}

func newMockClient(connID string) *MockClient {
	return newMockClientWithBuffer(connID, 10)
}

func newMockClientWithBuffer(connID string, buffer int) *MockClient {
	return &MockClient{
		connID:      connID,
		RecvChannel: make(chan models.ChatEvent, buffer),
	}
}

func (c *MockClient) GetConnID() string {
	return c.connID
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- models.ChatEvent {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// next returns the next delivered event, or false if none arrives in time.
func (c *MockClient) next() (models.ChatEvent, bool) {
	select {
	case ev := <-c.RecvChannel:
		return ev, true
	case <-time.After(200 * time.Millisecond):
		return models.ChatEvent{}, false
	}
}

// pending returns the number of undelivered events in the buffer.
func (c *MockClient) pending() int {
	return len(c.RecvChannel)
}
