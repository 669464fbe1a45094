// Package cache provides a Redis cache-aside layer for chat lookups. Every
// room join and every message send re-reads the chat's participant set, so
// those reads are served from Redis while the entry is fresh.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

const (
	keyPrefix = "chatterly:chat:"

	// DefaultTTL bounds how long a participant removed in the backing store
	// can still pass membership checks through a cached chat.
	DefaultTTL = 10 * time.Second
)

// Store wraps a store.Store and caches GetChat results.
type Store struct {
	store.Store
	client  *redis.Client
	ttl     time.Duration
	sfGroup singleflight.Group
	log     *zerolog.Logger
}

// New wraps next with a Redis-backed chat cache.
func New(next store.Store, client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		Store:  next,
		client: client,
		ttl:    ttl,
		log:    logger,
	}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func chatKey(id string) string {
	return keyPrefix + id
}

// GetChat returns the cached chat, falling back to the wrapped store on a miss
// or on any cache failure.
func (s *Store) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	data, err := s.client.Get(ctx, chatKey(id)).Bytes()
	switch {
	case err == nil:
		var chat store.Chat
		jsonErr := json.Unmarshal(data, &chat)
		if jsonErr == nil {
			return &chat, nil
		}
		s.log.Warn().Err(jsonErr).Str("chat_id", id).Msg("discarding undecodable cached chat")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("chat_id", id).Msg("chat cache read failed")
	}

	val, err, _ := s.sfGroup.Do(id, func() (any, error) {
		return s.Store.GetChat(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	chat := val.(*store.Chat)

	if data, err := json.Marshal(chat); err == nil {
		if setErr := s.client.Set(ctx, chatKey(id), data, s.ttl).Err(); setErr != nil {
			s.log.Warn().Err(setErr).Str("chat_id", id).Msg("chat cache write failed")
		}
	}
	return chat, nil
}

// UpdateLastMessage writes through and drops the cached entry.
func (s *Store) UpdateLastMessage(ctx context.Context, chatID string, summary store.LastMessage) error {
	if err := s.Store.UpdateLastMessage(ctx, chatID, summary); err != nil {
		return err
	}
	s.Invalidate(ctx, chatID)
	return nil
}

// Invalidate removes a chat from the cache.
func (s *Store) Invalidate(ctx context.Context, chatID string) {
	if err := s.client.Del(ctx, chatKey(chatID)).Err(); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("chat cache invalidation failed")
	}
}

// Close closes Redis and the wrapped store.
func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.Store.Close())
}
