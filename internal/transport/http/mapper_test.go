package http

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vovakirdan/chatterly-relay/internal/core"
	"github.com/vovakirdan/chatterly-relay/internal/proto"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

func TestInboundToCommand(t *testing.T) {
	cases := []struct {
		name    string
		inbound proto.Inbound
		kind    core.CommandKind
		errCode string
	}{
		{"join", proto.Inbound{Type: proto.InboundJoinChat, Data: json.RawMessage(`{"chatId":"c1"}`)}, core.CommandJoinChat, ""},
		{"join without chat", proto.Inbound{Type: proto.InboundJoinChat, Data: json.RawMessage(`{}`)}, 0, core.ErrCodeBadRequest},
		{"send", proto.Inbound{Type: proto.InboundSendMessage, Data: json.RawMessage(`{"chatId":"c1","type":"image","imageUrl":"u"}`)}, core.CommandSendMessage, ""},
		{"heartbeat without data", proto.Inbound{Type: proto.InboundHeartbeat}, core.CommandHeartbeat, ""},
		{"delete", proto.Inbound{Type: proto.InboundDeleteMessage, Data: json.RawMessage(`{"chatId":"c1","messageId":"m1"}`)}, core.CommandDeleteMessage, ""},
		{"mark read without message", proto.Inbound{Type: proto.InboundMarkRead, Data: json.RawMessage(`{"chatId":"c1"}`)}, 0, core.ErrCodeBadRequest},
		{"reaction", proto.Inbound{Type: proto.InboundAddReaction, Data: json.RawMessage(`{"chatId":"c1","messageId":"m1","emoji":"🔥"}`)}, core.CommandAddReaction, ""},
		{"subscribe", proto.Inbound{Type: proto.InboundSubscribePresence, Data: json.RawMessage(`{"userIds":["a","b"]}`)}, core.CommandSubscribePresence, ""},
		{"wrong payload type", proto.Inbound{Type: proto.InboundTyping, Data: json.RawMessage(`[1,2]`)}, 0, core.ErrCodeBadRequest},
		{"unknown", proto.Inbound{Type: "dance"}, 0, core.ErrCodeBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, perr := inboundToCommand(tc.inbound)
			if tc.errCode != "" {
				if perr == nil || perr.Code != tc.errCode {
					t.Fatalf("expected %s, got cmd=%+v err=%+v", tc.errCode, cmd, perr)
				}
				return
			}
			if perr != nil {
				t.Fatalf("unexpected error: %+v", perr)
			}
			if cmd.Kind != tc.kind {
				t.Fatalf("expected %v, got %v", tc.kind, cmd.Kind)
			}
		})
	}
}

func TestInboundSendMessageFields(t *testing.T) {
	cmd, perr := inboundToCommand(proto.Inbound{
		Type: proto.InboundSendMessage,
		Data: json.RawMessage(`{"chatId":"c1","type":"image","content":"","imageUrl":"https://x/y.png"}`),
	})
	if perr != nil {
		t.Fatalf("unexpected error: %+v", perr)
	}
	if cmd.ChatID != "c1" || cmd.Type != store.MessageTypeImage || cmd.ImageURL != "https://x/y.png" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestOutboundEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	out := outboundFromEvent(&core.Event{
		Kind:   core.EventMessageDeleted,
		ChatID: "c1",
		Message: &store.Message{
			ID:        "m1",
			ChatID:    "c1",
			SenderID:  "alice",
			Type:      store.MessageTypeText,
			Content:   store.DeletedContent,
			Timestamp: ts,
			Deleted:   true,
		},
	})
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventMessageDeleted {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Data["imageUrl"] != nil || decoded.Data["deleted"] != true {
		t.Fatalf("unexpected envelope json: %s", raw)
	}
	if _, ok := decoded.Data["reactions"].(map[string]any); !ok {
		t.Fatalf("reactions should encode as an object: %s", raw)
	}
}

func TestOutboundError(t *testing.T) {
	out := outboundFromEvent(&core.Event{Kind: core.EventError, Error: core.NewError(core.ErrCodeNotAuthorized, "not authorized")})
	if out.Type != proto.OutboundTypeError || out.Event != proto.EventError {
		t.Fatalf("unexpected outbound: %+v", out)
	}
	if out.Error.Code != core.ErrCodeNotAuthorized || out.Error.Message != "not authorized" {
		t.Fatalf("unexpected error: %+v", out.Error)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRateLimiter(2)
	r.now = func() time.Time { return now }

	if !r.allow() || !r.allow() {
		t.Fatal("first two events should pass")
	}
	if r.allow() {
		t.Fatal("third event should be limited")
	}
	now = now.Add(time.Minute)
	if !r.allow() {
		t.Fatal("new window should reset the counter")
	}

	if !newRateLimiter(0).allow() {
		t.Fatal("zero limit means unlimited")
	}
}
