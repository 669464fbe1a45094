package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Inbound event names.
const (
	InboundJoinChat            = "join-chat"
	InboundLeaveChat           = "leave-chat"
	InboundSendMessage         = "send-message"
	InboundTyping              = "typing"
	InboundStopTyping          = "stop-typing"
	InboundMarkRead            = "mark-read"
	InboundAddReaction         = "add-reaction"
	InboundEditMessage         = "edit-message"
	InboundDeleteMessage       = "delete-message"
	InboundHeartbeat           = "heartbeat"
	InboundGetPresence         = "get-presence"
	InboundSubscribePresence   = "subscribe-presence"
	InboundUnsubscribePresence = "unsubscribe-presence"
)

// Outbound event names.
const (
	EventOnlineUsers       = "online-users"
	EventChatJoined        = "chat-joined"
	EventChatLeft          = "chat-left"
	EventNewMessage        = "new-message"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventMessageRead       = "message-read"
	EventMessageReaction   = "message-reaction"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventPresenceChange    = "presence-change"
	EventPresenceUpdate    = "presence-update"
	EventError             = "error"
)

// ChatData references a chat (join-chat, leave-chat, typing, stop-typing).
type ChatData struct {
	ChatID string `json:"chatId"`
}

// SendMessageData is a new message from the client.
type SendMessageData struct {
	ChatID   string `json:"chatId"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// MessageRefData references a message (mark-read, delete-message).
type MessageRefData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ReactionData toggles a reaction.
type ReactionData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// EditMessageData replaces a message's content.
type EditMessageData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// UserIDsData lists users for presence queries and subscriptions.
type UserIDsData struct {
	UserIDs []string `json:"userIds"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessageEnvelope is a chat message as seen by clients.
type MessageEnvelope struct {
	ID         string              `json:"id"`
	ChatID     string              `json:"chatId"`
	SenderID   string              `json:"senderId"`
	SenderName string              `json:"senderName"`
	Type       string              `json:"type"`
	Content    string              `json:"content"`
	ImageURL   *string             `json:"imageUrl"`
	Timestamp  time.Time           `json:"timestamp"`
	ReadBy     []string            `json:"readBy"`
	Reactions  map[string][]string `json:"reactions"`
	Edited     bool                `json:"edited"`
	Deleted    bool                `json:"deleted"`
}

// ChatRef acknowledges chat joins and leaves.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// Typing is carried by user-typing and user-stopped-typing.
type Typing struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// MessageRead notifies that a user read a message.
type MessageRead struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageReaction carries a message's reaction map after a toggle.
type MessageReaction struct {
	ChatID    string              `json:"chatId"`
	MessageID string              `json:"messageId"`
	UserID    string              `json:"userId"`
	Reactions map[string][]string `json:"reactions"`
}

// UserOnline notifies that a user came online.
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline notifies that a user went offline.
type UserOffline struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen"`
}

// PresenceChange is the combined presence notification.
type PresenceChange struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

// PresenceStatus is one entry of a presence-update answer, keyed by user id.
type PresenceStatus struct {
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
