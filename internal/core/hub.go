package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/push"
	"github.com/vovakirdan/chatterly-relay/internal/store"
)

const (
	pushTimeout  = 30 * time.Second
	flushTimeout = 5 * time.Second
)

// Pusher sends push notifications for messages. Failures are reported on the
// returned channel, which the hub drains into the log.
type Pusher interface {
	Dispatch(ctx context.Context, n push.Notification) <-chan error
}

// Hub owns the connection table, the room table and the presence registry of
// one relay instance.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*Room

	registry *Registry
	store    store.Store
	pusher   Pusher
	log      *zerolog.Logger
	now      func() time.Time

	// ctx bounds store calls made on behalf of clients; cancelled when Run exits.
	ctx    context.Context
	cancel context.CancelFunc

	transitions *presenceQueue
}

// NewHub creates a hub. A nil registry gets a fresh one; a nil pusher disables
// push notifications.
func NewHub(st store.Store, registry *Registry, pusher Pusher, logger *zerolog.Logger) *Hub {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]*Room),
		registry:    registry,
		store:       st,
		pusher:      pusher,
		log:         logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		transitions: newPresenceQueue(),
	}
}

// Registry exposes the presence registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run publishes presence transitions until ctx is done. Transitions queued
// before shutdown are flushed with a short deadline.
func (h *Hub) Run(ctx context.Context) {
	defer h.cancel()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			for _, t := range h.transitions.drain() {
				h.publishPresence(flushCtx, t)
			}
			cancel()
			h.log.Info().Msg("hub stopped")
			return
		case <-h.transitions.ready:
			for _, t := range h.transitions.drain() {
				h.publishPresence(ctx, t)
			}
		}
	}
}

// RegisterClient admits an authenticated connection, starts processing its
// commands and sends it the current online users.
func (h *Hub) RegisterClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	if h.registry.Register(c.User.ID, c.ID) {
		h.transitions.push(transition{userID: c.User.ID, online: true, at: h.now().UTC()})
	}
	online := h.registry.OnlineUserIDs()
	h.mu.Unlock()

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.User.ID).
		Int("connections", h.registry.Connections(c.User.ID)).
		Msg("client registered")

	c.send(&Event{Kind: EventOnlineUsers, UserIDs: online})
	go h.serve(c)
}

// UnregisterClient releases a connection from every room and from the
// registry. It is safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	c.markDone()

	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	c.closed = true
	for name := range c.rooms {
		h.removeFromRoomLocked(c, name)
	}
	offline, lastSeen := h.registry.Unregister(c.User.ID, c.ID)
	if offline {
		h.transitions.push(transition{userID: c.User.ID, online: false, at: lastSeen})
	}
	h.mu.Unlock()

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.User.ID).
		Bool("offline", offline).
		Msg("client unregistered")
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections subscribed to a room.
func (h *Hub) RoomSize(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[name]; ok {
		return room.Len()
	}
	return 0
}

// serve handles one client's commands in order until it is unregistered.
func (h *Hub) serve(c *Client) {
	for {
		select {
		case <-c.done:
			return
		case <-h.ctx.Done():
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			h.dispatch(h.ctx, c, cmd)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinChat:
		h.joinChat(ctx, c, cmd)
	case CommandLeaveChat:
		h.leaveChat(c, cmd)
	case CommandSendMessage:
		h.sendMessage(ctx, c, cmd)
	case CommandTyping:
		h.typing(c, cmd, EventUserTyping)
	case CommandStopTyping:
		h.typing(c, cmd, EventUserStoppedTyping)
	case CommandMarkRead:
		h.markRead(ctx, c, cmd)
	case CommandAddReaction:
		h.addReaction(ctx, c, cmd)
	case CommandEditMessage:
		h.editMessage(ctx, c, cmd)
	case CommandDeleteMessage:
		h.deleteMessage(ctx, c, cmd)
	case CommandHeartbeat:
		h.heartbeat(ctx, c)
	case CommandGetPresence:
		h.getPresence(ctx, c, cmd)
	case CommandSubscribePresence:
		h.subscribePresence(c, cmd)
	case CommandUnsubscribePresence:
		h.unsubscribePresence(c, cmd)
	default:
		c.fail(coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) joinRoom(c *Client, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return false
	}
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	c.rooms[name] = struct{}{}
	return room.AddClient(c)
}

func (h *Hub) leaveRoom(c *Client, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeFromRoomLocked(c, name)
}

func (h *Hub) removeFromRoomLocked(c *Client, name string) bool {
	delete(c.rooms, name)
	room, ok := h.rooms[name]
	if !ok {
		return false
	}
	removed := room.RemoveClient(c)
	if room.Empty() {
		delete(h.rooms, name)
	}
	return removed
}

func (h *Hub) inRoom(c *Client, name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	return ok && room.Has(c)
}

func (h *Hub) broadcast(name string, ev *Event) int {
	return h.broadcastExcept(name, ev, nil)
}

func (h *Hub) broadcastExcept(name string, ev *Event, except *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	if !ok {
		return 0
	}
	return room.BroadcastExcept(ev, except)
}
