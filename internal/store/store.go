package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user, chat or message does not exist.
var ErrNotFound = errors.New("not found")

// MessageType classifies a chat message.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

const (
	// DeletedContent replaces the content of a tombstoned message.
	DeletedContent = "This message was deleted"
	// PhotoSummary is shown as the chat's last message for image messages.
	PhotoSummary = "📷 Photo"
)

// User is the persisted profile of a chat user.
type User struct {
	ID        string
	Name      string
	Email     string
	Online    bool
	LastSeen  *time.Time
	PushToken string
}

// Chat is a one-to-one or group conversation.
type Chat struct {
	ID           string
	Participants []string
	IsGroup      bool
	Name         string
	Admins       []string
	LastMessage  *LastMessage
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// LastMessage is the summary shown in chat lists.
type LastMessage struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Message is the stored envelope of a chat message. Messages are never
// physically removed; deletion is a tombstone.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Type       MessageType
	Content    string
	ImageURL   string
	Timestamp  time.Time
	ReadBy     []string
	Reactions  map[string][]string
	Edited     bool
	Deleted    bool
}

// Summary builds the last-message summary for m.
func (m *Message) Summary() LastMessage {
	content := m.Content
	if m.Type == MessageTypeImage {
		content = PhotoSummary
	}
	return LastMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Type:       m.Type,
		Content:    content,
		Timestamp:  m.Timestamp,
	}
}

// UserStore handles user persistence.
type UserStore interface {
	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*User, error)

	// SetPresence stores the online flag. A nil lastSeen clears it.
	SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error

	// TouchLastSeen refreshes last-seen for a user recorded as online. It never
	// changes the online flag and is a no-op for offline or unknown users.
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

// ChatStore handles chat persistence.
type ChatStore interface {
	// GetChat retrieves a chat with its participants and admins.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// UpdateLastMessage replaces the chat's last-message summary and bumps updated_at.
	UpdateLastMessage(ctx context.Context, chatID string, summary LastMessage) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new message. ID and Timestamp must be set.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message of a chat.
	GetMessage(ctx context.Context, chatID, messageID string) (*Message, error)

	// MarkRead adds userID to the message's read-by set.
	MarkRead(ctx context.Context, chatID, messageID, userID string) error

	// ToggleReaction adds userID under emoji, or removes it if already present,
	// and returns the resulting reaction map. Emojis left without users are dropped.
	ToggleReaction(ctx context.Context, chatID, messageID, emoji, userID string) (map[string][]string, error)

	// EditMessage replaces the content and sets the edited flag. Only a live
	// message sent by senderID matches; otherwise ErrNotFound is returned.
	EditMessage(ctx context.Context, chatID, messageID, senderID, content string) error

	// DeleteMessage tombstones a message: content replaced, image cleared, deleted set.
	// Only a live message sent by senderID matches; otherwise ErrNotFound is returned.
	DeleteMessage(ctx context.Context, chatID, messageID, senderID string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
