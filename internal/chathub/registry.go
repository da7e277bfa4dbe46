package chathub

import (
	"log"
	"productchat/backend/internal/models"
	"sync"

	"github.com/samber/lo"
)

// Broadcaster fans an event out to every subscriber of a chat's room.
// It returns the number of receivers reached.
type Broadcaster interface {
	Broadcast(chatID uint, ev models.ChatEvent) int
}

// Registry maps chat IDs to the live connections subscribed to them.
// Membership is in-memory only and is rebuilt from scratch after a restart;
// history recovery goes through the store.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uint]map[string]Client
	joined map[string]map[uint]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[uint]map[string]Client),
		joined: make(map[string]map[uint]struct{}),
	}
}

// Join subscribes c to chatID. Joining twice is a no-op.
func (r *Registry) Join(c Client, chatID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[chatID]
	if !ok {
		room = make(map[string]Client)
		r.rooms[chatID] = room
	}
	room[c.GetConnID()] = c

	rooms, ok := r.joined[c.GetConnID()]
	if !ok {
		rooms = make(map[uint]struct{})
		r.joined[c.GetConnID()] = rooms
	}
	rooms[chatID] = struct{}{}
}

// Leave unsubscribes c from chatID. Leaving a room not joined is a no-op.
func (r *Registry) Leave(c Client, chatID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.GetConnID(), chatID)
}

// LeaveAll removes c from every room and returns the rooms it was in.
func (r *Registry) LeaveAll(c Client) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.joined[c.GetConnID()])
	for _, chatID := range rooms {
		r.leaveLocked(c.GetConnID(), chatID)
	}
	return rooms
}

func (r *Registry) leaveLocked(connID string, chatID uint) {
	if room, ok := r.rooms[chatID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, chatID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Broadcast delivers ev to every connection subscribed to chatID when the call
// starts. The read lock is held for the whole fan-out, so a connection whose
// Leave has returned is never written to. Sends never block: a subscriber with
// a full buffer misses the event and the rest still get it.
func (r *Registry) Broadcast(chatID uint, ev models.ChatEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for connID, client := range r.rooms[chatID] {
		if trySend(client, ev) {
			delivered++
			continue
		}
		log.Printf("WARNING: Dropped %s for connection %s in chat %d: send buffer full", ev.Type, connID, chatID)
	}
	return delivered
}

// Members returns the number of connections subscribed to chatID.
func (r *Registry) Members(chatID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chatID])
}

// RoomsOf returns the chats c is subscribed to.
func (r *Registry) RoomsOf(c Client) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined[c.GetConnID()])
}
