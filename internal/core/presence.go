package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vovakirdan/chatterly-relay/internal/store"
)

type transition struct {
	userID string
	online bool
	at     time.Time
}

// presenceQueue is an unbounded FIFO of presence transitions. Producers push
// while holding the hub lock, so the queue order matches registry order.
type presenceQueue struct {
	mu    sync.Mutex
	items []transition
	ready chan struct{}
}

func newPresenceQueue() *presenceQueue {
	return &presenceQueue{ready: make(chan struct{}, 1)}
}

func (q *presenceQueue) push(t transition) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *presenceQueue) drain() []transition {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// publishPresence persists a transition and notifies the user's presence
// subscribers. A failed write is logged; subscribers are still notified since
// the registry is the source of truth for online state.
func (h *Hub) publishPresence(ctx context.Context, t transition) {
	logger := h.log.With().Str("user_id", t.userID).Bool("online", t.online).Logger()

	if h.store != nil {
		var lastSeen *time.Time
		if !t.online {
			lastSeen = &t.at
		}
		if err := h.store.SetPresence(ctx, t.userID, t.online, lastSeen); err != nil {
			logger.Warn().Err(err).Msg("persist presence")
		}
	}

	room := PresenceRoom(t.userID)
	if t.online {
		h.broadcast(room, &Event{Kind: EventUserOnline, UserID: t.userID})
		h.broadcast(room, &Event{Kind: EventPresenceChange, UserID: t.userID, Online: true})
	} else {
		at := t.at
		h.broadcast(room, &Event{Kind: EventUserOffline, UserID: t.userID, LastSeen: &at})
		h.broadcast(room, &Event{Kind: EventPresenceChange, UserID: t.userID, LastSeen: &at})
	}
	logger.Debug().Msg("presence published")
}

func (h *Hub) heartbeat(ctx context.Context, c *Client) {
	if h.store == nil {
		return
	}
	if err := h.store.TouchLastSeen(ctx, c.User.ID, h.now().UTC()); err != nil {
		h.log.Warn().Err(err).Str("user_id", c.User.ID).Msg("heartbeat")
	}
}

func (h *Hub) getPresence(ctx context.Context, c *Client, cmd *Command) {
	result := make(map[string]Presence, len(cmd.UserIDs))
	for _, id := range cmd.UserIDs {
		if id == "" {
			continue
		}
		if _, seen := result[id]; seen {
			continue
		}
		p := Presence{Online: h.registry.IsOnline(id)}
		if h.store != nil {
			user, err := h.store.GetUser(ctx, id)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					h.log.Warn().Err(err).Str("user_id", id).Msg("presence lookup")
				}
				continue
			}
			p.LastSeen = user.LastSeen
		}
		result[id] = p
	}
	c.send(&Event{Kind: EventPresenceUpdate, Presence: result})
}

func (h *Hub) subscribePresence(c *Client, cmd *Command) {
	for _, id := range cmd.UserIDs {
		if id != "" {
			h.joinRoom(c, PresenceRoom(id))
		}
	}
}

func (h *Hub) unsubscribePresence(c *Client, cmd *Command) {
	for _, id := range cmd.UserIDs {
		if id != "" {
			h.leaveRoom(c, PresenceRoom(id))
		}
	}
}
