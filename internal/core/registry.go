package core

import (
	"slices"
	"sync"
	"time"
)

// Registry tracks the live connections of every user. A user is online while
// at least one of its connections is registered.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[string]struct{}),
		now:   time.Now,
	}
}

// Register adds connID to the user's connection set. It reports true when the
// user had no connections before, i.e. the user just came online.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	return !ok
}

// Unregister removes connID. When it was the user's last connection the entry
// is dropped and Unregister reports the offline transition with its last-seen
// time. Unknown connections are ignored.
func (r *Registry) Unregister(userID, connID string) (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false, time.Time{}
	}
	if _, ok := set[connID]; !ok {
		return false, time.Time{}
	}
	delete(set, connID)
	if len(set) > 0 {
		return false, time.Time{}
	}
	delete(r.conns, userID)
	return true, r.now().UTC()
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Connections returns how many live connections the user holds.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// OnlineUserIDs returns the online users in sorted order.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
