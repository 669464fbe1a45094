package core

import (
	"time"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventOnlineUsers lists the online users to a freshly admitted connection.
	EventOnlineUsers EventKind = iota
	// EventChatJoined acknowledges a chat room join.
	EventChatJoined
	// EventChatLeft acknowledges a chat room leave.
	EventChatLeft
	// EventNewMessage carries a persisted message envelope.
	EventNewMessage
	// EventUserTyping notifies that a user is typing in a chat.
	EventUserTyping
	// EventUserStoppedTyping notifies that a user stopped typing.
	EventUserStoppedTyping
	// EventMessageRead notifies that a user read a message.
	EventMessageRead
	// EventMessageReaction carries a message's updated reaction map.
	EventMessageReaction
	// EventMessageEdited carries an edited envelope.
	EventMessageEdited
	// EventMessageDeleted carries a tombstoned envelope.
	EventMessageDeleted
	// EventUserOnline notifies presence subscribers that a user came online.
	EventUserOnline
	// EventUserOffline notifies presence subscribers that a user went offline.
	EventUserOffline
	// EventPresenceChange is the combined online/offline notification.
	EventPresenceChange
	// EventPresenceUpdate answers a presence query.
	EventPresenceUpdate
	// EventError notifies a single connection about a domain error.
	EventError
)

var eventNames = [...]string{
	EventOnlineUsers:       "online-users",
	EventChatJoined:        "chat-joined",
	EventChatLeft:          "chat-left",
	EventNewMessage:        "new-message",
	EventUserTyping:        "user-typing",
	EventUserStoppedTyping: "user-stopped-typing",
	EventMessageRead:       "message-read",
	EventMessageReaction:   "message-reaction",
	EventMessageEdited:     "message-edited",
	EventMessageDeleted:    "message-deleted",
	EventUserOnline:        "user-online",
	EventUserOffline:       "user-offline",
	EventPresenceChange:    "presence-change",
	EventPresenceUpdate:    "presence-update",
	EventError:             "error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Presence is a user's online state and last-seen time.
type Presence struct {
	Online   bool
	LastSeen *time.Time
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	ChatID    string
	UserID    string
	UserName  string
	MessageID string
	// Message is shared between all recipients and must not be mutated.
	Message   *store.Message
	Reactions map[string][]string
	Online    bool
	LastSeen  *time.Time
	UserIDs   []string
	Presence  map[string]Presence
	Error     *CoreError
}
