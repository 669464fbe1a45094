package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
	"github.com/vovakirdan/chatterly-relay/internal/config"
	"github.com/vovakirdan/chatterly-relay/internal/core"
	"github.com/vovakirdan/chatterly-relay/internal/proto"
	"github.com/vovakirdan/chatterly-relay/internal/store"
	"github.com/vovakirdan/chatterly-relay/internal/store/sqlite"
)

const testSecret = "testsecret"

type testEnv struct {
	server *httptest.Server
	hub    *core.Hub
	store  *sqlite.SQLiteStore
	jwt    *auth.JWTConfig
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, u := range []*store.User{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
	} {
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	if err := st.CreateChat(ctx, &store.Chat{ID: "c1", Participants: []string{"alice", "bob"}}); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	hub := core.NewHub(st, nil, nil, &logger)
	hubCtx, cancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	server := NewServer(hub, auth.NewAuthenticator(jwtConfig), &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, hub: hub, store: st, jwt: jwtConfig}
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
}

func (e *testEnv) token(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := auth.GenerateToken(e.jwt, auth.Identity{ID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) dial(ctx context.Context, t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+e.token(t, userID, userID), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readEvent reads frames until one with the given event name arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}
