package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

type fakeUsers map[string]*store.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

type fakePresence map[string]bool

func (f fakePresence) IsOnline(id string) bool { return f[id] }

type recordingGateway struct {
	mu     sync.Mutex
	chunks [][]Message
	err    error
}

func (g *recordingGateway) Send(_ context.Context, messages []Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks = append(g.chunks, messages)
	return g.err
}

func (g *recordingGateway) all() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Message
	for _, c := range g.chunks {
		out = append(out, c...)
	}
	return out
}

func drain(t *testing.T, errs <-chan error) []error {
	t.Helper()
	var out []error
	timeout := time.After(2 * time.Second)
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return out
			}
			out = append(out, err)
		case <-timeout:
			t.Fatal("dispatch did not finish")
		}
	}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestDispatchSkipsSenderAndOnlineUsers(t *testing.T) {
	users := fakeUsers{
		"alice": {ID: "alice", PushToken: "ExponentPushToken[alice]"},
		"bob":   {ID: "bob", PushToken: "ExponentPushToken[bob]"},
		"carol": {ID: "carol", PushToken: "ExponentPushToken[carol]"},
	}
	gw := &recordingGateway{}
	d := NewDispatcher(users, fakePresence{"carol": true}, gw, 100, 2, nopLogger())

	errs := drain(t, d.Dispatch(context.Background(), Notification{
		ChatID:       "chat-1",
		SenderID:     "alice",
		SenderName:   "Alice",
		Type:         store.MessageTypeText,
		Content:      "hi",
		Participants: []string{"alice", "bob", "carol"},
	}))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	sent := gw.all()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	msg := sent[0]
	if msg.To != "ExponentPushToken[bob]" || msg.Title != "Alice" || msg.Body != "hi" || msg.Sound != "default" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Data["chatId"] != "chat-1" {
		t.Fatalf("expected chatId in data, got %v", msg.Data)
	}
}

func TestDispatchImageBody(t *testing.T) {
	users := fakeUsers{"bob": {ID: "bob", PushToken: "ExpoPushToken[bob]"}}
	gw := &recordingGateway{}
	d := NewDispatcher(users, fakePresence{}, gw, 100, 1, nopLogger())

	drain(t, d.Dispatch(context.Background(), Notification{
		ChatID:       "c",
		SenderID:     "alice",
		SenderName:   "Alice",
		Type:         store.MessageTypeImage,
		Participants: []string{"alice", "bob"},
	}))

	sent := gw.all()
	if len(sent) != 1 || sent[0].Body != photoBody {
		t.Fatalf("expected photo body, got %+v", sent)
	}
}

func TestDispatchIgnoresInvalidTokens(t *testing.T) {
	users := fakeUsers{
		"bob":   {ID: "bob", PushToken: "not-a-token"},
		"carol": {ID: "carol"},
	}
	gw := &recordingGateway{}
	d := NewDispatcher(users, fakePresence{}, gw, 100, 1, nopLogger())

	errs := drain(t, d.Dispatch(context.Background(), Notification{
		ChatID: "c", SenderID: "alice", Participants: []string{"alice", "bob", "carol"},
	}))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(gw.all()) != 0 {
		t.Fatal("expected no gateway calls")
	}
}

func TestDispatchReportsLookupAndGatewayErrors(t *testing.T) {
	users := fakeUsers{"bob": {ID: "bob", PushToken: "ExponentPushToken[bob]"}}
	gw := &recordingGateway{err: errors.New("boom")}
	d := NewDispatcher(users, fakePresence{}, gw, 100, 1, nopLogger())

	errs := drain(t, d.Dispatch(context.Background(), Notification{
		ChatID: "c", SenderID: "alice", Participants: []string{"alice", "bob", "ghost"},
	}))
	if len(errs) != 2 {
		t.Fatalf("expected lookup and gateway errors, got %v", errs)
	}
	var sawNotFound bool
	for _, err := range errs {
		if errors.Is(err, store.ErrNotFound) {
			sawNotFound = true
		}
	}
	if !sawNotFound {
		t.Fatalf("expected a not found error, got %v", errs)
	}
}

func TestDispatchChunks(t *testing.T) {
	users := fakeUsers{}
	var participants []string
	for i := range 7 {
		id := string(rune('a' + i))
		participants = append(participants, id)
		users[id] = &store.User{ID: id, PushToken: "ExponentPushToken[" + id + "]"}
	}
	gw := &recordingGateway{}
	d := NewDispatcher(users, fakePresence{}, gw, 3, 2, nopLogger())

	drain(t, d.Dispatch(context.Background(), Notification{
		ChatID: "c", SenderID: "sender", Participants: participants,
	}))

	gw.mu.Lock()
	sizes := make([]int, 0, len(gw.chunks))
	for _, c := range gw.chunks {
		sizes = append(sizes, len(c))
	}
	gw.mu.Unlock()
	sort.Ints(sizes)
	if len(sizes) != 3 || sizes[0] != 1 || sizes[1] != 3 || sizes[2] != 3 {
		t.Fatalf("unexpected chunk sizes %v", sizes)
	}
}

func TestChunk(t *testing.T) {
	msgs := make([]Message, 250)
	chunks := Chunk(msgs, 100)
	if len(chunks) != 3 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if got := Chunk(nil, 100); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}

func TestIsExpoPushToken(t *testing.T) {
	cases := map[string]bool{
		"ExponentPushToken[xxxx]":              true,
		"ExpoPushToken[yyyy]":                  true,
		"ExponentPushToken[open":               false,
		"fcm-token":                            false,
		"":                                     false,
		"f47ac10b-58cc-4372-a567-0e02b2c3d479": true,
	}
	for token, want := range cases {
		if got := IsExpoPushToken(token); got != want {
			t.Errorf("IsExpoPushToken(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestExpoGatewaySend(t *testing.T) {
	var gotAuth string
	var gotBody []Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"t1"}]}`))
	}))
	defer srv.Close()

	gw := NewExpoGateway(srv.URL, "secret", time.Second)
	err := gw.Send(context.Background(), []Message{{To: "ExponentPushToken[a]", Body: "hi"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if len(gotBody) != 1 || gotBody[0].To != "ExponentPushToken[a]" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestExpoGatewayTicketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"},{"status":"error","message":"DeviceNotRegistered"}]}`))
	}))
	defer srv.Close()

	gw := NewExpoGateway(srv.URL, "", time.Second)
	err := gw.Send(context.Background(), []Message{{To: "a"}, {To: "b"}})
	if err == nil || !strings.Contains(err.Error(), "DeviceNotRegistered") {
		t.Fatalf("expected ticket error, got %v", err)
	}
}

func TestExpoGatewayHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"code":"TOO_MANY_REQUESTS","message":"slow down"}]}`))
	}))
	defer srv.Close()

	gw := NewExpoGateway(srv.URL, "", time.Second)
	err := gw.Send(context.Background(), []Message{{To: "a"}})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
