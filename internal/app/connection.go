package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

// Connection is the registry's record of one live transport connection.
// Other components hold its id, never the pointer, across calls.
type Connection struct {
	ID        domain.ConnID
	Transport core.SignalConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	user     *domain.User
	rooms    map[domain.RoomID]domain.Permission
	authz    map[domain.RoomID]domain.Permission
	lastBeat time.Time
}

// NewConnection creates a connection in StateConnecting. An empty id gets a fresh uuid.
func NewConnection(id domain.ConnID, t core.SignalConnection, now time.Time) *Connection {
	if id == "" {
		id = domain.NewConnID()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:        id,
		Transport: t,
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[domain.RoomID]domain.Permission),
		authz:     make(map[domain.RoomID]domain.Permission),
		lastBeat:  now,
	}
}

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transition moves the connection to the next lifecycle state.
func (c *Connection) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Connection) transitionLocked(to State) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.state = to
	if to == StateClosed {
		c.cancel()
	}
	return nil
}

// Authenticate binds the user and moves Connecting -> Authenticated.
func (c *Connection) Authenticate(u *domain.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateAuthenticated); err != nil {
		return err
	}
	cp := *u
	c.user = &cp
	return nil
}

func (c *Connection) User() (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return domain.User{}, false
	}
	return *c.user, true
}

func (c *Connection) UserID() domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

func (c *Connection) Rooms() []domain.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Role returns the role snapshot taken when the connection joined room.
func (c *Connection) Role(room domain.RoomID) (domain.Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.rooms[room]
	return p, ok
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBeat
}

func (c *Connection) touch(t time.Time) {
	c.mu.Lock()
	if t.After(c.lastBeat) {
		c.lastBeat = t
	}
	c.mu.Unlock()
}

func (c *Connection) CachedPermission(room domain.RoomID) (domain.Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.authz[room]
	return p, ok
}

func (c *Connection) CachePermission(room domain.RoomID, p domain.Permission) {
	c.mu.Lock()
	c.authz[room] = p
	c.mu.Unlock()
}

func (c *Connection) ForgetPermission(room domain.RoomID) {
	c.mu.Lock()
	delete(c.authz, room)
	c.mu.Unlock()
}
