package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
	"github.com/vovakirdan/chatterly-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:3001/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token; minted from -secret when empty")
	secret := flag.String("secret", os.Getenv("CHATTERLY_JWT_SECRET"), "JWT secret used to mint a dev token")
	user := flag.String("user", "tester", "user id for a minted token")
	chat := flag.String("chat", "general", "chat id to join")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		if *secret == "" {
			return fmt.Errorf("either -token or -secret is required")
		}
		minted, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(*secret), TTL: time.Hour}, auth.Identity{
			ID:          *user,
			DisplayName: *user,
		})
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		*token = minted
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundJoinChat, proto.ChatData{ChatID: *chat}); err != nil {
		return err
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: type=%s event=%s data=%s\n", f.Type, f.Event, string(f.Data))

		switch f.Event {
		case proto.EventError:
			if f.Error != nil {
				return fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Message)
			}
			return fmt.Errorf("server error")
		case proto.EventChatJoined:
			if err := send(proto.InboundSendMessage, proto.SendMessageData{ChatID: *chat, Type: "text", Content: *text}); err != nil {
				return err
			}
		case proto.EventNewMessage:
			var msg proto.MessageEnvelope
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: chat=%s sender=%s content=%q at=%s\n", msg.ChatID, msg.SenderName, msg.Content, msg.Timestamp.Format(time.RFC3339))
			return nil
		}
	}
}
