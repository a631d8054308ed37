// Package registry tracks the live websocket connections on this
// instance and the rooms each one subscribes to. All state is
// in-memory; registry operations cannot fail except on invalid input,
// and an unknown connection ID on unregister is a no-op.
package registry

import (
	"sync"
	"time"

	"github.com/haasonsaas/taskhub/pkg/models"
)

// Sender delivers a single event to the client behind a connection.
// The gateway's websocket session implements it; delivery is FIFO per
// connection.
type Sender interface {
	SendEvent(event string, payload any) error
}

// Connection is one live device session. It belongs to exactly one
// user for its whole lifetime.
type Connection struct {
	ID       string
	UserID   string
	OpenedAt time.Time
	Sender   Sender

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// Subscribed reports whether the connection joined the room.
func (c *Connection) Subscribed(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[room]
	return ok
}

// Rooms returns a snapshot of the connection's room memberships.
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.subscriptions))
	for room := range c.subscriptions {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Connection) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[room] = struct{}{}
}

func (c *Connection) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, room)
}

// Registry is the per-instance connection table.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection and joins it to the user's room. Returns
// the tracked connection.
func (r *Registry) Register(connID, userID string, sender Sender) *Connection {
	conn := &Connection{
		ID:            connID,
		UserID:        userID,
		OpenedAt:      time.Now(),
		Sender:        sender,
		subscriptions: map[string]struct{}{models.RoomUser(userID): {}},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = conn
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][connID] = conn
	return conn
}

// Unregister removes a connection. Unknown IDs are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	if peers := r.byUser[conn.UserID]; peers != nil {
		delete(peers, connID)
		if len(peers) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
}

// Get returns the connection by ID, or nil.
func (r *Registry) Get(connID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

// ConnectionsFor returns this instance's connections for a user. A
// user may have more sessions on other instances; callers deciding
// "fully offline" must consult the cross-instance session counter.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := r.byUser[userID]
	out := make([]*Connection, 0, len(peers))
	for _, conn := range peers {
		out = append(out, conn)
	}
	return out
}

// Members returns the local connections subscribed to a room.
func (r *Registry) Members(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0)
	for _, conn := range r.conns {
		if conn.Subscribed(room) {
			out = append(out, conn)
		}
	}
	return out
}

// All returns every local connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of live connections on this instance.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Join subscribes a connection to a room. Unknown connections are
// ignored.
func (r *Registry) Join(connID, room string) {
	if room == "" {
		return
	}
	if conn := r.Get(connID); conn != nil {
		conn.join(room)
	}
}

// Leave removes a room subscription. The user room cannot be left; it
// is implied by the connection's identity.
func (r *Registry) Leave(connID, room string) {
	conn := r.Get(connID)
	if conn == nil || room == models.RoomUser(conn.UserID) {
		return
	}
	conn.leave(room)
}
