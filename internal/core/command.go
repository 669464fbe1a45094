package core

import "github.com/vovakirdan/chatterly-relay/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinChat subscribes the connection to a chat room.
	CommandJoinChat CommandKind = iota
	// CommandLeaveChat unsubscribes the connection from a chat room.
	CommandLeaveChat
	// CommandSendMessage persists and fans out a new message.
	CommandSendMessage
	// CommandTyping announces that the user is typing.
	CommandTyping
	// CommandStopTyping announces that the user stopped typing.
	CommandStopTyping
	// CommandMarkRead adds the user to a message's read-by set.
	CommandMarkRead
	// CommandAddReaction toggles the user's reaction on a message.
	CommandAddReaction
	// CommandEditMessage replaces the content of the user's own message.
	CommandEditMessage
	// CommandDeleteMessage tombstones the user's own message.
	CommandDeleteMessage
	// CommandHeartbeat refreshes the user's last-seen time.
	CommandHeartbeat
	// CommandGetPresence asks for the presence of a set of users.
	CommandGetPresence
	// CommandSubscribePresence joins the presence rooms of a set of users.
	CommandSubscribePresence
	// CommandUnsubscribePresence leaves the presence rooms of a set of users.
	CommandUnsubscribePresence
)

var commandNames = [...]string{
	CommandJoinChat:            "join-chat",
	CommandLeaveChat:           "leave-chat",
	CommandSendMessage:         "send-message",
	CommandTyping:              "typing",
	CommandStopTyping:          "stop-typing",
	CommandMarkRead:            "mark-read",
	CommandAddReaction:         "add-reaction",
	CommandEditMessage:         "edit-message",
	CommandDeleteMessage:       "delete-message",
	CommandHeartbeat:           "heartbeat",
	CommandGetPresence:         "get-presence",
	CommandSubscribePresence:   "subscribe-presence",
	CommandUnsubscribePresence: "unsubscribe-presence",
}

func (k CommandKind) String() string {
	if k >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a client. Which fields are used
// depends on Kind.
type Command struct {
	Kind      CommandKind
	ChatID    string
	MessageID string
	Type      store.MessageType
	Content   string
	ImageURL  string
	Emoji     string
	UserIDs   []string
}
