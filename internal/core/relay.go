package core

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/push"
	"github.com/vovakirdan/chatterly-relay/internal/store"
	"github.com/vovakirdan/chatterly-relay/internal/utils"
)

const unknownSender = "Unknown"

func (h *Hub) clientLog(c *Client, chatID string) zerolog.Logger {
	return h.log.With().
		Str("conn_id", c.ID).
		Str("user_id", c.User.ID).
		Str("chat_id", chatID).
		Logger()
}

// authorizeChat loads the chat and checks that the client's user participates in it.
func (h *Hub) authorizeChat(ctx context.Context, c *Client, chatID, denied string) (*store.Chat, *CoreError) {
	if chatID == "" {
		return nil, coreError(ErrCodeBadRequest, "chatId is required")
	}
	chat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeChatNotFound, "chat not found")
		}
		logger := h.clientLog(c, chatID)
		logger.Error().Err(err).Msg("load chat")
		return nil, coreError(ErrCodePersistenceFailed, "failed to load chat")
	}
	if !chat.HasParticipant(c.User.ID) {
		return nil, coreError(ErrCodeNotAuthorized, denied)
	}
	return chat, nil
}

func (h *Hub) joinChat(ctx context.Context, c *Client, cmd *Command) {
	if _, cerr := h.authorizeChat(ctx, c, cmd.ChatID, "not authorized to join this chat"); cerr != nil {
		c.fail(cerr)
		return
	}
	h.joinRoom(c, ChatRoom(cmd.ChatID))
	c.send(&Event{Kind: EventChatJoined, ChatID: cmd.ChatID})

	logger := h.clientLog(c, cmd.ChatID)
	logger.Debug().Msg("joined chat")
}

func (h *Hub) leaveChat(c *Client, cmd *Command) {
	if cmd.ChatID == "" {
		c.fail(coreError(ErrCodeBadRequest, "chatId is required"))
		return
	}
	h.leaveRoom(c, ChatRoom(cmd.ChatID))
	c.send(&Event{Kind: EventChatLeft, ChatID: cmd.ChatID})
}

func validateSend(cmd *Command) *CoreError {
	if cmd.ChatID == "" {
		return coreError(ErrCodeBadRequest, "chatId is required")
	}
	if cmd.Type == "" {
		cmd.Type = store.MessageTypeText
	}
	switch cmd.Type {
	case store.MessageTypeText, store.MessageTypeImage:
	default:
		return coreError(ErrCodeBadRequest, "unsupported message type")
	}
	if cmd.Type == store.MessageTypeImage {
		if cmd.ImageURL == "" {
			return coreError(ErrCodeBadRequest, "imageUrl is required for image messages")
		}
		return nil
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return coreError(ErrCodeBadRequest, "content is required")
	}
	return nil
}

// sendMessage persists a message, updates the chat summary and fans the
// envelope out to every connection in the chat room, the sender's included.
// Nothing is broadcast unless both writes succeed.
func (h *Hub) sendMessage(ctx context.Context, c *Client, cmd *Command) {
	if cerr := validateSend(cmd); cerr != nil {
		c.fail(cerr)
		return
	}
	chat, cerr := h.authorizeChat(ctx, c, cmd.ChatID, "not authorized")
	if cerr != nil {
		c.fail(cerr)
		return
	}

	logger := h.clientLog(c, cmd.ChatID)

	msg := &store.Message{
		ID:         utils.NewID(),
		ChatID:     cmd.ChatID,
		SenderID:   c.User.ID,
		SenderName: h.senderName(ctx, c),
		Type:       cmd.Type,
		Content:    cmd.Content,
		ImageURL:   cmd.ImageURL,
		Timestamp:  h.now().UTC(),
		ReadBy:     []string{c.User.ID},
		Reactions:  map[string][]string{},
	}

	if err := h.store.CreateMessage(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("persist message")
		c.fail(coreError(ErrCodePersistenceFailed, "failed to send message"))
		return
	}
	if err := h.store.UpdateLastMessage(ctx, chat.ID, msg.Summary()); err != nil {
		logger.Error().Err(err).Str("message_id", msg.ID).Msg("update last message")
		c.fail(coreError(ErrCodePersistenceFailed, "failed to send message"))
		return
	}

	delivered := h.broadcast(ChatRoom(chat.ID), &Event{Kind: EventNewMessage, ChatID: chat.ID, Message: msg})
	logger.Debug().Str("message_id", msg.ID).Int("delivered", delivered).Msg("message sent")

	if h.pusher != nil {
		h.notify(ctx, chat, msg)
	}
}

func (h *Hub) senderName(ctx context.Context, c *Client) string {
	user, err := h.store.GetUser(ctx, c.User.ID)
	switch {
	case err == nil && user.Name != "":
		return user.Name
	case err != nil && !errors.Is(err, store.ErrNotFound):
		h.log.Warn().Err(err).Str("user_id", c.User.ID).Msg("load sender profile")
	}
	if c.User.DisplayName != "" {
		return c.User.DisplayName
	}
	return unknownSender
}

// notify runs push dispatch detached from the command that triggered it.
func (h *Hub) notify(ctx context.Context, chat *store.Chat, msg *store.Message) {
	n := push.Notification{
		ChatID:       chat.ID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		Type:         msg.Type,
		Content:      msg.Content,
		Participants: slices.Clone(chat.Participants),
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		for err := range h.pusher.Dispatch(pctx, n) {
			h.log.Warn().Err(err).Str("chat_id", n.ChatID).Msg("push notification failed")
		}
	}()
}

func (h *Hub) typing(c *Client, cmd *Command, kind EventKind) {
	if cmd.ChatID == "" {
		c.fail(coreError(ErrCodeBadRequest, "chatId is required"))
		return
	}
	room := ChatRoom(cmd.ChatID)
	if !h.inRoom(c, room) {
		c.fail(coreError(ErrCodeNotInChat, "join the chat first"))
		return
	}
	ev := &Event{Kind: kind, ChatID: cmd.ChatID, UserID: c.User.ID}
	if kind == EventUserTyping {
		ev.UserName = c.User.DisplayName
	}
	h.broadcastExcept(room, ev, c)
}

func (h *Hub) markRead(ctx context.Context, c *Client, cmd *Command) {
	if cmd.MessageID == "" {
		c.fail(coreError(ErrCodeBadRequest, "messageId is required"))
		return
	}
	if _, cerr := h.authorizeChat(ctx, c, cmd.ChatID, "not authorized"); cerr != nil {
		c.fail(cerr)
		return
	}
	if err := h.store.MarkRead(ctx, cmd.ChatID, cmd.MessageID, c.User.ID); err != nil {
		c.fail(h.messageError(c, cmd, err, "failed to mark message as read"))
		return
	}
	h.broadcast(ChatRoom(cmd.ChatID), &Event{
		Kind:      EventMessageRead,
		ChatID:    cmd.ChatID,
		MessageID: cmd.MessageID,
		UserID:    c.User.ID,
	})
}

func (h *Hub) addReaction(ctx context.Context, c *Client, cmd *Command) {
	if cmd.MessageID == "" || cmd.Emoji == "" {
		c.fail(coreError(ErrCodeBadRequest, "messageId and emoji are required"))
		return
	}
	if _, cerr := h.authorizeChat(ctx, c, cmd.ChatID, "not authorized"); cerr != nil {
		c.fail(cerr)
		return
	}
	reactions, err := h.store.ToggleReaction(ctx, cmd.ChatID, cmd.MessageID, cmd.Emoji, c.User.ID)
	if err != nil {
		c.fail(h.messageError(c, cmd, err, "failed to update reaction"))
		return
	}
	h.broadcast(ChatRoom(cmd.ChatID), &Event{
		Kind:      EventMessageReaction,
		ChatID:    cmd.ChatID,
		MessageID: cmd.MessageID,
		UserID:    c.User.ID,
		Reactions: reactions,
	})
}

// ownMessage checks that the client's user still belongs to the chat, then
// loads the message and checks that the same user sent it.
func (h *Hub) ownMessage(ctx context.Context, c *Client, cmd *Command) (*store.Message, *CoreError) {
	if cmd.ChatID == "" || cmd.MessageID == "" {
		return nil, coreError(ErrCodeBadRequest, "chatId and messageId are required")
	}
	if _, cerr := h.authorizeChat(ctx, c, cmd.ChatID, "not authorized"); cerr != nil {
		return nil, cerr
	}
	msg, err := h.store.GetMessage(ctx, cmd.ChatID, cmd.MessageID)
	if err != nil {
		return nil, h.messageError(c, cmd, err, "failed to load message")
	}
	if msg.SenderID != c.User.ID {
		return nil, coreError(ErrCodeNotAuthorized, "only the sender can change this message")
	}
	if msg.Deleted {
		return nil, coreError(ErrCodeBadRequest, "message was deleted")
	}
	return msg, nil
}

func (h *Hub) editMessage(ctx context.Context, c *Client, cmd *Command) {
	if strings.TrimSpace(cmd.Content) == "" {
		c.fail(coreError(ErrCodeBadRequest, "content is required"))
		return
	}
	msg, cerr := h.ownMessage(ctx, c, cmd)
	if cerr != nil {
		c.fail(cerr)
		return
	}
	if err := h.store.EditMessage(ctx, cmd.ChatID, cmd.MessageID, c.User.ID, cmd.Content); err != nil {
		c.fail(h.messageError(c, cmd, err, "failed to edit message"))
		return
	}
	msg.Content = cmd.Content
	msg.Edited = true
	h.broadcast(ChatRoom(cmd.ChatID), &Event{Kind: EventMessageEdited, ChatID: cmd.ChatID, Message: msg})
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, cmd *Command) {
	msg, cerr := h.ownMessage(ctx, c, cmd)
	if cerr != nil {
		c.fail(cerr)
		return
	}
	if err := h.store.DeleteMessage(ctx, cmd.ChatID, cmd.MessageID, c.User.ID); err != nil {
		c.fail(h.messageError(c, cmd, err, "failed to delete message"))
		return
	}
	msg.Content = store.DeletedContent
	msg.ImageURL = ""
	msg.Deleted = true
	h.broadcast(ChatRoom(cmd.ChatID), &Event{Kind: EventMessageDeleted, ChatID: cmd.ChatID, Message: msg})
}

func (h *Hub) messageError(c *Client, cmd *Command, err error, msg string) *CoreError {
	if errors.Is(err, store.ErrNotFound) {
		return coreError(ErrCodeMessageNotFound, "message not found")
	}
	logger := h.clientLog(c, cmd.ChatID)
	logger.Error().Err(err).Str("message_id", cmd.MessageID).Str("command", cmd.Kind.String()).Msg(msg)
	return coreError(ErrCodePersistenceFailed, msg)
}
