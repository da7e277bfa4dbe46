package chathub

import (
	"encoding/json"
	"log"
	"productchat/backend/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	ConnID  string
	UserID  string
	Conn    *websocket.Conn
	Session *Session
	Send    chan models.ChatEvent

	closeOnce sync.Once
}

// Connector starts a Session for a new connection. *Gateway implements it.
type Connector interface {
	Connect(c Client) *Session
}

// NewWebSocketClient wraps an upgraded connection and attaches it to the gateway.
// userID is the verified identity, empty for anonymous connections.
func NewWebSocketClient(conn *websocket.Conn, gw Connector, userID string, buffer int) *WebSocketClient {
	if buffer <= 0 {
		buffer = 256
	}
	c := &WebSocketClient{
		ConnID: uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan models.ChatEvent, buffer),
	}
	c.Session = gw.Connect(c)
	return c
}

func (c *WebSocketClient) GetConnID() string                       { return c.ConnID }
func (c *WebSocketClient) GetUserID() string                       { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ChatEvent { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump reads frames until the connection drops. A drop is an implicit
// disconnect: the connection leaves every room before its channel is closed.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Session.Disconnect()
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var ev models.ChatEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Printf("Error decoding JSON from connection %s: %v", c.ConnID, err)
			c.Session.notify(models.NewErrorEvent(0, "Malformed frame"))
			continue
		}

		c.Session.Handle(ev)
	}
}

// writePump (маленька 'w') читає події з каналу Send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(ev); err != nil {
				log.Printf("Error writing to connection %s: %v", c.ConnID, err)
				return
			}

		case <-ticker.C:
			// Надсилаємо Ping для підтримки з'єднання активним
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
