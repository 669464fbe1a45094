package core

import (
	"sync"

	"github.com/vovakirdan/chatterly-relay/internal/auth"
)

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// Client is one authenticated connection as seen by the core layer. A user
// with several devices has several clients.
type Client struct {
	ID       string
	User     auth.Identity
	Commands chan *Command
	Events   chan *Event

	// rooms and closed are guarded by the hub lock.
	rooms  map[string]struct{}
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, user auth.Identity) *Client {
	return &Client{
		ID:       id,
		User:     user,
		Commands: make(chan *Command, commandBuffer),
		Events:   make(chan *Event, eventBuffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// send delivers ev without blocking. Slow consumers lose events.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) fail(err *CoreError) {
	c.send(&Event{Kind: EventError, Error: err})
}
