package cache

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

// countingStore records how often the backing store is hit.
type countingStore struct {
	store.Store
	chat  *store.Chat
	gets  atomic.Int32
	fail  error
	saved atomic.Int32
}

func (c *countingStore) GetChat(_ context.Context, id string) (*store.Chat, error) {
	c.gets.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	if id != c.chat.ID {
		return nil, store.ErrNotFound
	}
	cp := *c.chat
	return &cp, nil
}

func (c *countingStore) UpdateLastMessage(context.Context, string, store.LastMessage) error {
	c.saved.Add(1)
	return nil
}

func (c *countingStore) Close() error { return nil }

func setupTestCache(t *testing.T, next store.Store) *Store {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	logger := zerolog.Nop()
	s := New(next, client, time.Minute, &logger)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetChatCachesAfterFirstRead(t *testing.T) {
	id := "c-" + uuid.NewString()
	next := &countingStore{chat: &store.Chat{ID: id, Participants: []string{"a", "b"}}}
	s := setupTestCache(t, next)
	ctx := context.Background()
	defer s.Invalidate(ctx, id)

	for range 3 {
		chat, err := s.GetChat(ctx, id)
		if err != nil {
			t.Fatalf("get chat: %v", err)
		}
		if !chat.HasParticipant("b") {
			t.Fatalf("unexpected participants: %v", chat.Participants)
		}
	}
	if got := next.gets.Load(); got != 1 {
		t.Fatalf("expected one backing read, got %d", got)
	}
}

func TestUpdateLastMessageInvalidates(t *testing.T) {
	id := "c-" + uuid.NewString()
	next := &countingStore{chat: &store.Chat{ID: id, Participants: []string{"a"}}}
	s := setupTestCache(t, next)
	ctx := context.Background()
	defer s.Invalidate(ctx, id)

	if _, err := s.GetChat(ctx, id); err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if err := s.UpdateLastMessage(ctx, id, store.LastMessage{ID: "m1"}); err != nil {
		t.Fatalf("update last message: %v", err)
	}
	if _, err := s.GetChat(ctx, id); err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got := next.gets.Load(); got != 2 {
		t.Fatalf("expected re-read after invalidation, got %d backing reads", got)
	}
	if next.saved.Load() != 1 {
		t.Fatal("expected write-through to the backing store")
	}
}

func TestGetChatDoesNotCacheErrors(t *testing.T) {
	next := &countingStore{chat: &store.Chat{ID: "x"}, fail: errors.New("db down")}
	s := setupTestCache(t, next)

	id := "c-" + uuid.NewString()
	for range 2 {
		if _, err := s.GetChat(context.Background(), id); err == nil {
			t.Fatal("expected backing error to surface")
		}
	}
	if got := next.gets.Load(); got != 2 {
		t.Fatalf("errors must not be cached, got %d backing reads", got)
	}
}

func TestNewDefaultsToShortTTL(t *testing.T) {
	logger := zerolog.Nop()
	s := New(&countingStore{chat: &store.Chat{ID: "c"}}, nil, 0, &logger)
	if s.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", s.ttl, DefaultTTL)
	}
}
