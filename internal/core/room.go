package core

const (
	chatRoomPrefix     = "chat:"
	presenceRoomPrefix = "presence:"
)

// ChatRoom returns the room carrying a chat's messages.
func ChatRoom(chatID string) string { return chatRoomPrefix + chatID }

// PresenceRoom returns the room carrying a user's presence changes.
func PresenceRoom(userID string) string { return presenceRoomPrefix + userID }

// Room groups clients subscribed to the same broadcast channel.
type Room struct {
	Name    string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Has reports whether c is a member.
func (r *Room) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Broadcast sends an event to all clients in the room.
func (r *Room) Broadcast(event *Event) int {
	return r.BroadcastExcept(event, nil)
}

// BroadcastExcept sends an event to every client but except. It returns the
// number of clients that accepted the event.
func (r *Room) BroadcastExcept(event *Event, except *Client) int {
	delivered := 0
	for client := range r.clients {
		if client == except {
			continue
		}
		if client.send(event) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
