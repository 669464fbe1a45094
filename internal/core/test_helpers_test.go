package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func assertNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

// barrier waits until every command sent before it has been processed.
func barrier(t *testing.T, c *Client) {
	t.Helper()
	c.Commands <- &Command{Kind: CommandLeaveChat, ChatID: "barrier"}
	mustEvent(t, c.Events, EventChatLeft)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// gate blocks a store hook until released and reports when it is entered.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) hold() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("store call never started")
	}
}

func newTestHub(t *testing.T, st store.Store, registry *Registry, pusher Pusher) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := zerolog.Nop()
	hub := NewHub(st, registry, pusher, &logger)
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func connect(hub *Hub, connID, userID, name string) *Client {
	c := NewClient(connID, auth.Identity{ID: userID, DisplayName: name})
	hub.RegisterClient(c)
	return c
}

func joinChat(t *testing.T, c *Client, chatID string) {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinChat, ChatID: chatID}
	mustEvent(t, c.Events, EventChatJoined)
}

type presenceWrite struct {
	userID   string
	online   bool
	lastSeen *time.Time
}

// memStore is an in-memory store.Store that records writes.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	chats    map[string]*store.Chat
	messages map[string]*store.Message

	createCalls    int
	failCreate     bool
	presenceWrites []presenceWrite
	touches        int

	// Hooks run before the matching write takes the lock, so tests can hold
	// a write in flight while other commands proceed.
	beforeEdit  func()
	beforeTouch func()
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*store.User),
		chats:    make(map[string]*store.Chat),
		messages: make(map[string]*store.Message),
	}
}

func msgKey(chatID, messageID string) string { return chatID + "\x00" + messageID }

func (m *memStore) addUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memStore) addChat(id string, participants ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[id] = &store.Chat{ID: id, Participants: participants}
}

func (m *memStore) removeParticipant(chatID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[chatID]; ok {
		c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
	}
}

func (m *memStore) user(id string) store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return *u
	}
	return store.User{}
}

func (m *memStore) setFailCreate(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = fail
}

func (m *memStore) creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *memStore) writes() []presenceWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.presenceWrites)
}

func (m *memStore) message(chatID, id string) *store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgKey(chatID, id)]
	if !ok {
		return nil
	}
	cp := *msg
	return &cp
}

func (m *memStore) GetUser(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) SetPresence(_ context.Context, userID string, online bool, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presenceWrites = append(m.presenceWrites, presenceWrite{userID: userID, online: online, lastSeen: lastSeen})
	if u, ok := m.users[userID]; ok {
		u.Online = online
		u.LastSeen = lastSeen
	}
	return nil
}

func (m *memStore) TouchLastSeen(_ context.Context, userID string, at time.Time) error {
	if m.beforeTouch != nil {
		m.beforeTouch()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if u, ok := m.users[userID]; ok && u.Online {
		u.LastSeen = &at
	}
	return nil
}

func (m *memStore) GetChat(_ context.Context, id string) (*store.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp, nil
}

func (m *memStore) UpdateLastMessage(_ context.Context, chatID string, summary store.LastMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessage = &summary
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.failCreate {
		return errors.New("store unavailable")
	}
	cp := *msg
	cp.ReadBy = slices.Clone(msg.ReadBy)
	cp.Reactions = map[string][]string{}
	m.messages[msgKey(msg.ChatID, msg.ID)] = &cp
	return nil
}

func (m *memStore) GetMessage(_ context.Context, chatID, messageID string) (*store.Message, error) {
	msg := m.message(chatID, messageID)
	if msg == nil {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (m *memStore) MarkRead(_ context.Context, chatID, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgKey(chatID, messageID)]
	if !ok {
		return store.ErrNotFound
	}
	if !slices.Contains(msg.ReadBy, userID) {
		msg.ReadBy = append(msg.ReadBy, userID)
	}
	return nil
}

func (m *memStore) ToggleReaction(_ context.Context, chatID, messageID, emoji, userID string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgKey(chatID, messageID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	users := msg.Reactions[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = slices.Delete(users, i, i+1)
	} else {
		users = append(users, userID)
	}
	if len(users) == 0 {
		delete(msg.Reactions, emoji)
	} else {
		msg.Reactions[emoji] = users
	}
	out := make(map[string][]string, len(msg.Reactions))
	for k, v := range msg.Reactions {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

func (m *memStore) EditMessage(_ context.Context, chatID, messageID, senderID, content string) error {
	if m.beforeEdit != nil {
		m.beforeEdit()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgKey(chatID, messageID)]
	if !ok || msg.SenderID != senderID || msg.Deleted {
		return store.ErrNotFound
	}
	msg.Content = content
	msg.Edited = true
	return nil
}

func (m *memStore) DeleteMessage(_ context.Context, chatID, messageID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[msgKey(chatID, messageID)]
	if !ok || msg.SenderID != senderID || msg.Deleted {
		return store.ErrNotFound
	}
	msg.Content = store.DeletedContent
	msg.ImageURL = ""
	msg.Deleted = true
	return nil
}

func (m *memStore) Close() error { return nil }
