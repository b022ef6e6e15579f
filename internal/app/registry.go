package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Registry tracks every live connection by id.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*Connection

	// set by NewMembership; Unregister cleans memberships through it
	rooms *Membership
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*Connection),
	}
}

func (r *Registry) Register(c *Connection) (domain.ConnID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return "", core.Errorf(core.DuplicateConnection, "connection %s already registered", c.ID)
	}
	r.conns[c.ID] = c
	log.Info().Str("module", "app.registry").Str("conn", string(c.ID)).Msg("registered connection")
	return c.ID, nil
}

func (r *Registry) Lookup(id domain.ConnID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Unregister removes the connection, forces it closed and leaves every room
// it had joined before returning. It returns those rooms. Unknown ids are a no-op.
func (r *Registry) Unregister(id domain.ConnID) []domain.RoomID {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateClosed
		c.cancel()
	}
	c.mu.Unlock()

	var left []domain.RoomID
	if r.rooms != nil {
		left = r.rooms.dropConnection(c)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("rooms", len(left)).Msg("unregistered connection")
	return left
}

func (r *Registry) UpdateHeartbeat(id domain.ConnID, t time.Time) bool {
	c, ok := r.Lookup(id)
	if !ok {
		return false
	}
	c.touch(t)
	return true
}

func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
