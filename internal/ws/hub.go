package ws

import (
	"sort"
	"sync"
)

// Hub tracks the local connections and the room each one is in.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// rooms maps document ID to set of client IDs
	rooms map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and from its room. It returns the
// room the client was in.
func (h *Hub) Unregister(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	docID := client.DocID()
	h.leaveLocked(client, docID)
	delete(h.clients, client.ID)

	return docID
}

// Subscribe moves a client into a room and returns the room it left, if any.
func (h *Hub) Subscribe(client *Client, docID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := client.DocID()
	if previous != "" && previous != docID {
		h.leaveLocked(client, previous)
	} else {
		previous = ""
	}

	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[string]struct{})
	}

	h.rooms[docID][client.ID] = struct{}{}
	client.SetDocID(docID)

	return previous
}

// Unsubscribe removes a client from a room.
func (h *Hub) Unsubscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, docID)
}

func (h *Hub) leaveLocked(client *Client, docID string) {
	if docID == "" {
		return
	}

	if members, ok := h.rooms[docID]; ok {
		delete(members, client.ID)

		if len(members) == 0 {
			delete(h.rooms, docID)
		}
	}

	if client.DocID() == docID {
		client.SetDocID("")
	}
}

// Broadcast queues a message for every local client in a room except the
// sender (identified by excludeClientID) and returns how many accepted it.
// It never waits on a socket; a client whose queue is full is disconnected.
func (h *Hub) Broadcast(docID string, msg Message, excludeClientID string) int {
	targets := h.members(docID, excludeClientID)

	queued := 0

	for _, c := range targets {
		if err := c.Enqueue(msg); err == nil {
			queued++
		}
	}

	return queued
}

func (h *Hub) members(docID, excludeClientID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids, ok := h.rooms[docID]
	if !ok {
		return nil
	}

	out := make([]*Client, 0, len(ids))

	for id := range ids {
		if id == excludeClientID {
			continue
		}

		if c, ok := h.clients[id]; ok {
			out = append(out, c)
		}
	}

	return out
}

// HasUser reports whether any local connection of userID is in the room.
func (h *Hub) HasUser(docID, userID string) bool {
	for _, c := range h.members(docID, "") {
		if c.UserID == userID {
			return true
		}
	}

	return false
}

// Rooms returns the rooms with at least one local connection, sorted.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// ClientCount returns the number of clients in a room.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[docID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
