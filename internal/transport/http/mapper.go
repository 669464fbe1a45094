package http

import (
	"bytes"
	"encoding/json"

	"github.com/vovakirdan/chatterly-relay/internal/core"
	"github.com/vovakirdan/chatterly-relay/internal/proto"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Message: msg}
}

// decodeData unmarshals an inbound payload; a missing payload decodes as {}.
func decodeData(raw json.RawMessage, v any) *proto.Error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("invalid payload")
	}
	return nil
}

func chatCommand(kind core.CommandKind, raw json.RawMessage) (*core.Command, *proto.Error) {
	var data proto.ChatData
	if perr := decodeData(raw, &data); perr != nil {
		return nil, perr
	}
	if data.ChatID == "" {
		return nil, badRequest("chatId is required")
	}
	return &core.Command{Kind: kind, ChatID: data.ChatID}, nil
}

func userIDsCommand(kind core.CommandKind, raw json.RawMessage) (*core.Command, *proto.Error) {
	var data proto.UserIDsData
	if perr := decodeData(raw, &data); perr != nil {
		return nil, perr
	}
	return &core.Command{Kind: kind, UserIDs: data.UserIDs}, nil
}

// inboundToCommand maps a client frame onto a core command. Malformed frames
// produce a protocol error and leave the connection open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundJoinChat:
		return chatCommand(core.CommandJoinChat, inbound.Data)
	case proto.InboundLeaveChat:
		return chatCommand(core.CommandLeaveChat, inbound.Data)
	case proto.InboundTyping:
		return chatCommand(core.CommandTyping, inbound.Data)
	case proto.InboundStopTyping:
		return chatCommand(core.CommandStopTyping, inbound.Data)
	case proto.InboundSendMessage:
		var data proto.SendMessageData
		if perr := decodeData(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		if data.ChatID == "" {
			return nil, badRequest("chatId is required")
		}
		return &core.Command{
			Kind:     core.CommandSendMessage,
			ChatID:   data.ChatID,
			Type:     store.MessageType(data.Type),
			Content:  data.Content,
			ImageURL: data.ImageURL,
		}, nil
	case proto.InboundMarkRead, proto.InboundDeleteMessage:
		var data proto.MessageRefData
		if perr := decodeData(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		if data.ChatID == "" || data.MessageID == "" {
			return nil, badRequest("chatId and messageId are required")
		}
		kind := core.CommandMarkRead
		if inbound.Type == proto.InboundDeleteMessage {
			kind = core.CommandDeleteMessage
		}
		return &core.Command{Kind: kind, ChatID: data.ChatID, MessageID: data.MessageID}, nil
	case proto.InboundAddReaction:
		var data proto.ReactionData
		if perr := decodeData(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		if data.ChatID == "" || data.MessageID == "" || data.Emoji == "" {
			return nil, badRequest("chatId, messageId and emoji are required")
		}
		return &core.Command{
			Kind:      core.CommandAddReaction,
			ChatID:    data.ChatID,
			MessageID: data.MessageID,
			Emoji:     data.Emoji,
		}, nil
	case proto.InboundEditMessage:
		var data proto.EditMessageData
		if perr := decodeData(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		if data.ChatID == "" || data.MessageID == "" {
			return nil, badRequest("chatId and messageId are required")
		}
		return &core.Command{
			Kind:      core.CommandEditMessage,
			ChatID:    data.ChatID,
			MessageID: data.MessageID,
			Content:   data.Content,
		}, nil
	case proto.InboundHeartbeat:
		return &core.Command{Kind: core.CommandHeartbeat}, nil
	case proto.InboundGetPresence:
		return userIDsCommand(core.CommandGetPresence, inbound.Data)
	case proto.InboundSubscribePresence:
		return userIDsCommand(core.CommandSubscribePresence, inbound.Data)
	case proto.InboundUnsubscribePresence:
		return userIDsCommand(core.CommandUnsubscribePresence, inbound.Data)
	default:
		return nil, badRequest("unknown event type")
	}
}

func envelope(msg *store.Message) proto.MessageEnvelope {
	var imageURL *string
	if msg.ImageURL != "" {
		u := msg.ImageURL
		imageURL = &u
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	reactions := msg.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	return proto.MessageEnvelope{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Type:       string(msg.Type),
		Content:    msg.Content,
		ImageURL:   imageURL,
		Timestamp:  msg.Timestamp,
		ReadBy:     readBy,
		Reactions:  reactions,
		Edited:     msg.Edited,
		Deleted:    msg.Deleted,
	}
}

func errorOutbound(perr *proto.Error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Event: proto.EventError, Error: perr}
}

func eventOutbound(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventOnlineUsers:
		ids := event.UserIDs
		if ids == nil {
			ids = []string{}
		}
		return eventOutbound(proto.EventOnlineUsers, ids)
	case core.EventChatJoined:
		return eventOutbound(proto.EventChatJoined, proto.ChatRef{ChatID: event.ChatID})
	case core.EventChatLeft:
		return eventOutbound(proto.EventChatLeft, proto.ChatRef{ChatID: event.ChatID})
	case core.EventNewMessage:
		return eventOutbound(proto.EventNewMessage, envelope(event.Message))
	case core.EventMessageEdited:
		return eventOutbound(proto.EventMessageEdited, envelope(event.Message))
	case core.EventMessageDeleted:
		return eventOutbound(proto.EventMessageDeleted, envelope(event.Message))
	case core.EventUserTyping:
		return eventOutbound(proto.EventUserTyping, proto.Typing{
			ChatID:   event.ChatID,
			UserID:   event.UserID,
			UserName: event.UserName,
		})
	case core.EventUserStoppedTyping:
		return eventOutbound(proto.EventUserStoppedTyping, proto.Typing{ChatID: event.ChatID, UserID: event.UserID})
	case core.EventMessageRead:
		return eventOutbound(proto.EventMessageRead, proto.MessageRead{
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			UserID:    event.UserID,
		})
	case core.EventMessageReaction:
		reactions := event.Reactions
		if reactions == nil {
			reactions = map[string][]string{}
		}
		return eventOutbound(proto.EventMessageReaction, proto.MessageReaction{
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			UserID:    event.UserID,
			Reactions: reactions,
		})
	case core.EventUserOnline:
		return eventOutbound(proto.EventUserOnline, proto.UserOnline{UserID: event.UserID})
	case core.EventUserOffline:
		return eventOutbound(proto.EventUserOffline, proto.UserOffline{UserID: event.UserID, LastSeen: event.LastSeen})
	case core.EventPresenceChange:
		return eventOutbound(proto.EventPresenceChange, proto.PresenceChange{
			UserID:   event.UserID,
			Online:   event.Online,
			LastSeen: event.LastSeen,
		})
	case core.EventPresenceUpdate:
		statuses := make(map[string]proto.PresenceStatus, len(event.Presence))
		for id, p := range event.Presence {
			statuses[id] = proto.PresenceStatus{Online: p.Online, LastSeen: p.LastSeen}
		}
		return eventOutbound(proto.EventPresenceUpdate, statuses)
	case core.EventError:
		if event.Error == nil {
			return errorOutbound(&proto.Error{Code: "unknown", Message: "unknown error"})
		}
		return errorOutbound(&proto.Error{Code: event.Error.Code, Message: event.Error.Message})
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
