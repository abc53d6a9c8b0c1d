package chat

import (
	"sync"
)

// Hub tracks the live clients of this gateway instance, the room each chat
// channel maps to, and which clients belong to which user (one user can hold
// several connections at once). Cross-instance state, i.e. who is online
// where, lives in the presence tracker, not here.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[uint64]map[*Client]bool
	users   map[uint64]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[uint64]map[*Client]bool),
		users:   make(map[uint64]map[*Client]bool),
	}
}

// Register adds a freshly authenticated client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.users[c.identity.UserID] == nil {
		h.users[c.identity.UserID] = make(map[*Client]bool)
	}
	h.users[c.identity.UserID][c] = true
}

// Unregister removes a client from the hub, every room and the user index,
// and closes its send channel so the write pump drains and exits.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if conns := h.users[c.identity.UserID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.identity.UserID)
		}
	}
	close(c.send)
}

// JoinRoom adds a client to a channel's room.
func (h *Hub) JoinRoom(c *Client, channelID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	if h.rooms[channelID] == nil {
		h.rooms[channelID] = make(map[*Client]bool)
	}
	h.rooms[channelID][c] = true
}

// LeaveRoom removes a client from a channel's room.
func (h *Hub) LeaveRoom(c *Client, channelID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[channelID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, channelID)
		}
	}
}

// BroadcastRoom fans a frame out to every client in a channel's room,
// optionally excluding one connection (typically the sender).
func (h *Hub) BroadcastRoom(channelID uint64, data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[channelID] {
		if c == except {
			continue
		}
		c.enqueue(data)
	}
}

// BroadcastAll fans a frame out to every live client except one. Used for
// presence transitions, which are not scoped to a channel.
func (h *Hub) BroadcastAll(data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c == except {
			continue
		}
		c.enqueue(data)
	}
}

// SendToUserExcept delivers a frame to every connection of one user other
// than the given one, keeping multi-device clients in sync.
func (h *Hub) SendToUserExcept(userID uint64, data []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[userID] {
		if c == except {
			continue
		}
		c.enqueue(data)
	}
}

// Stats reports the current client and room counts.
func (h *Hub) Stats() (clients, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}
