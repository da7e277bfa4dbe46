package chathub

import (
	"errors"
	"fmt"
	"log"
	"productchat/backend/internal/models"
	"productchat/backend/internal/storage"
	"strings"
	"sync"
)

var (
	// ErrNotParticipant is returned when a sender is not one of the chat's two participants.
	ErrNotParticipant = storage.ErrNotParticipant
	// ErrDisconnected is returned for operations on a connection that has disconnected.
	ErrDisconnected = errors.New("connection is closed")
)

// Gateway joins the durable store and the live fan-out. Every posted message,
// whichever surface it came from, goes through Publish.
type Gateway struct {
	Store       storage.ChatStore
	Registry    *Registry
	Broadcaster Broadcaster
}

// NewGateway creates a Gateway. A nil broadcaster means local fan-out through the registry.
func NewGateway(store storage.ChatStore, registry *Registry, b Broadcaster) *Gateway {
	if b == nil {
		b = registry
	}
	return &Gateway{Store: store, Registry: registry, Broadcaster: b}
}

// Publish appends the message and only then broadcasts the stored copy, so a
// subscriber that fetches history after seeing a broadcast always finds it.
func (g *Gateway) Publish(chatID uint, senderID, text string) (*models.Message, error) {
	chat, err := g.Store.GetSession(chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, fmt.Errorf("user %s in chat %d: %w", senderID, chatID, ErrNotParticipant)
	}

	msg, err := g.Store.AppendMessage(chatID, senderID, text)
	if err != nil {
		return nil, err
	}

	g.Broadcaster.Broadcast(chatID, models.NewReceiveEvent(*msg))
	return msg, nil
}

// ConnState is the lifecycle state of a live connection.
type ConnState int

const (
	StateConnected ConnState = iota
	StateSubscribed
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Session is the per-connection side of the gateway:
// Connected -> (join)* -> Subscribed -> Disconnected. Disconnected is terminal.
type Session struct {
	gw     *Gateway
	client Client
	// userID is the verified identity of the connection; when set it overrides
	// the sender supplied in send_message frames.
	userID string

	mu    sync.Mutex
	state ConnState
}

// Connect starts a Session for a freshly opened connection.
func (g *Gateway) Connect(c Client) *Session {
	return &Session{gw: g, client: c, userID: c.GetUserID(), state: StateConnected}
}

// State returns the current lifecycle state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join subscribes the connection to the chat's room. Participation is not checked.
func (s *Session) Join(chatID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return ErrDisconnected
	}
	s.gw.Registry.Join(s.client, chatID)
	s.state = StateSubscribed
	return nil
}

// Leave unsubscribes the connection from one room without disconnecting it.
func (s *Session) Leave(chatID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return ErrDisconnected
	}
	s.gw.Registry.Leave(s.client, chatID)
	if len(s.gw.Registry.RoomsOf(s.client)) == 0 {
		s.state = StateConnected
	}
	return nil
}

// Send publishes a message. On failure an error frame goes back to this
// connection as well as being returned; nothing is dropped silently.
func (s *Session) Send(chatID uint, senderID, text string) (*models.Message, error) {
	if s.State() == StateDisconnected {
		return nil, ErrDisconnected
	}
	if s.userID != "" {
		senderID = s.userID
	}

	msg, err := s.gw.Publish(chatID, senderID, text)
	if err != nil {
		s.reject(chatID, err)
		return nil, err
	}
	return msg, nil
}

// Disconnect removes the connection from every room. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return
	}
	s.gw.Registry.LeaveAll(s.client)
	s.state = StateDisconnected
}

// Handle dispatches one inbound frame.
func (s *Session) Handle(ev models.ChatEvent) {
	switch ev.Type {
	case models.EventJoinChat:
		if err := s.Join(ev.ChatID); err != nil {
			s.reject(ev.ChatID, err)
		}
	case models.EventLeaveChat:
		if err := s.Leave(ev.ChatID); err != nil {
			s.reject(ev.ChatID, err)
		}
	case models.EventSendMessage:
		if strings.TrimSpace(ev.Text) == "" {
			s.notify(models.NewErrorEvent(ev.ChatID, "Message cannot be empty"))
			return
		}
		if s.userID == "" && ev.Sender == "" {
			s.notify(models.NewErrorEvent(ev.ChatID, "Sender is required"))
			return
		}
		_, _ = s.Send(ev.ChatID, ev.Sender, ev.Text)
	default:
		s.notify(models.NewErrorEvent(ev.ChatID, fmt.Sprintf("Unknown event type %q", ev.Type)))
	}
}

func (s *Session) reject(chatID uint, err error) {
	reason := "Message could not be delivered"
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		reason = "Chat not found"
	case errors.Is(err, ErrNotParticipant):
		reason = "Sender is not a participant of this chat"
	case errors.Is(err, ErrDisconnected):
		return
	default:
		log.Printf("ERROR: Live send to chat %d from connection %s failed: %v", chatID, s.client.GetConnID(), err)
	}
	s.notify(models.NewErrorEvent(chatID, reason))
}

func (s *Session) notify(ev models.ChatEvent) {
	if s.State() == StateDisconnected {
		return
	}
	if !trySend(s.client, ev) {
		log.Printf("WARNING: Dropped %s for connection %s: send buffer full", ev.Type, s.client.GetConnID())
	}
}
