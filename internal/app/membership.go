package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrMembershipFault = errors.New("membership asymmetry")

// LeaveHook runs after a connection left a room, outside of any lock.
type LeaveHook func(room domain.RoomID, conn domain.ConnID)

// roomEntry owns one room's member set.
// Lock order is roomEntry.mu then Connection.mu; never two rooms at once.
type roomEntry struct {
	id      domain.RoomID
	mu      sync.RWMutex
	members map[domain.ConnID]domain.Member
	evicted bool
}

// Membership is the bidirectional room <-> connection index.
// The room side lives here, the connection side in Connection.rooms.
type Membership struct {
	reg *Registry

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry

	hooksMu sync.RWMutex
	onLeave []LeaveHook
}

func NewMembership(reg *Registry) *Membership {
	m := &Membership{
		reg:   reg,
		rooms: make(map[domain.RoomID]*roomEntry),
	}
	reg.rooms = m
	return m
}

func (m *Membership) OnLeave(fn LeaveHook) {
	m.hooksMu.Lock()
	m.onLeave = append(m.onLeave, fn)
	m.hooksMu.Unlock()
}

func (m *Membership) entry(room domain.RoomID, create bool) *roomEntry {
	m.mu.RLock()
	e, ok := m.rooms[room]
	m.mu.RUnlock()
	if ok || !create {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.rooms[room]; ok {
		return e
	}
	e = &roomEntry{id: room, members: make(map[domain.ConnID]domain.Member)}
	m.rooms[room] = e
	return e
}

// evict must be called after e.evicted was set under e.mu.
func (m *Membership) evict(e *roomEntry) {
	m.mu.Lock()
	if m.rooms[e.id] == e {
		delete(m.rooms, e.id)
	}
	m.mu.Unlock()
	log.Debug().Str("module", "app.membership").Str("room", string(e.id)).Msg("evicted empty room")
}

// Join adds conn to room with role. It reports whether the connection was newly added;
// joining again only refreshes the role.
func (m *Membership) Join(room domain.RoomID, conn domain.ConnID, role domain.Permission) (bool, error) {
	if !role.CanRead() {
		return false, core.Errorf(core.Unauthorized, "no access to room %s", room)
	}
	c, ok := m.reg.Lookup(conn)
	if !ok {
		return false, fmt.Errorf("join %s: %w", conn, ErrUnknownConnection)
	}

	for {
		e := m.entry(room, true)
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}

		c.mu.Lock()
		if c.state != StateActive {
			state := c.state
			c.mu.Unlock()
			empty := len(e.members) == 0
			if empty {
				e.evicted = true
			}
			e.mu.Unlock()
			if empty {
				m.evict(e)
			}
			return false, fmt.Errorf("join %s in state %s: %w", conn, state, ErrUnknownConnection)
		}
		_, inRoom := e.members[conn]
		_, inConn := c.rooms[room]
		e.members[conn] = domain.Member{Conn: conn, User: c.user.ID, Role: role}
		c.rooms[room] = role
		c.mu.Unlock()
		e.mu.Unlock()

		if inRoom != inConn {
			return false, fmt.Errorf("join %s/%s: %w", room, conn, ErrMembershipFault)
		}
		if !inRoom {
			log.Info().Str("module", "app.membership").Str("room", string(room)).Str("conn", string(conn)).Str("role", role.String()).Msg("member joined")
		}
		return !inRoom, nil
	}
}

// Leave removes conn from room. Leaving a room one is not in is a no-op.
func (m *Membership) Leave(room domain.RoomID, conn domain.ConnID) (bool, error) {
	c, _ := m.reg.Lookup(conn)
	return m.leave(room, conn, c)
}

func (m *Membership) leave(room domain.RoomID, conn domain.ConnID, c *Connection) (bool, error) {
	var inRoom, inConn bool
	for {
		e := m.entry(room, false)
		if e == nil {
			inConn = c != nil && c.dropRoom(room)
			break
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		_, inRoom = e.members[conn]
		delete(e.members, conn)
		inConn = c != nil && c.dropRoom(room)
		empty := len(e.members) == 0
		if empty {
			e.evicted = true
		}
		e.mu.Unlock()
		if empty {
			m.evict(e)
		}
		break
	}

	left := inRoom || inConn
	if left {
		m.hooksMu.RLock()
		hooks := m.onLeave
		m.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(room, conn)
		}
		log.Info().Str("module", "app.membership").Str("room", string(room)).Str("conn", string(conn)).Msg("member left")
	}
	if c != nil && inRoom != inConn {
		return left, fmt.Errorf("leave %s/%s: %w", room, conn, ErrMembershipFault)
	}
	return left, nil
}

func (c *Connection) dropRoom(room domain.RoomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	delete(c.rooms, room)
	delete(c.authz, room)
	return ok
}

// dropConnection leaves every room of a connection that is already closed.
func (m *Membership) dropConnection(c *Connection) []domain.RoomID {
	var left []domain.RoomID
	for _, room := range c.Rooms() {
		ok, err := m.leave(room, c.ID, c)
		if err != nil {
			log.Error().Err(err).Str("module", "app.membership").Str("conn", string(c.ID)).Msg("cleanup found asymmetric membership")
		}
		if ok {
			left = append(left, room)
		}
	}
	return left
}

// MembersOf returns a copy of the room's member set.
func (m *Membership) MembersOf(room domain.RoomID) []domain.Member {
	e := m.entry(room, false)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Member, 0, len(e.members))
	for _, mem := range e.members {
		out = append(out, mem)
	}
	return out
}

func (m *Membership) RoomsOf(conn domain.ConnID) []domain.RoomID {
	c, ok := m.reg.Lookup(conn)
	if !ok {
		return nil
	}
	return c.Rooms()
}

func (m *Membership) Has(room domain.RoomID) bool {
	e := m.entry(room, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.evicted
}

func (m *Membership) IsMember(room domain.RoomID, conn domain.ConnID) bool {
	e := m.entry(room, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.members[conn]
	return ok
}

func (m *Membership) List() []domain.RoomInfo {
	m.mu.RLock()
	entries := make([]*roomEntry, 0, len(m.rooms))
	for _, e := range m.rooms {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.RoomInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.evicted {
			out = append(out, domain.RoomInfo{ID: e.id, MemberCount: len(e.members)})
		}
		e.mu.RUnlock()
	}
	return out
}

// Verify checks both directions of the index for one connection.
func (m *Membership) Verify(conn domain.ConnID) error {
	c, ok := m.reg.Lookup(conn)
	var joined []domain.RoomID
	if ok {
		joined = c.Rooms()
	}
	want := make(map[domain.RoomID]bool, len(joined))
	for _, r := range joined {
		want[r] = true
		if !m.IsMember(r, conn) {
			return fmt.Errorf("%s lists %s but room does not: %w", conn, r, ErrMembershipFault)
		}
	}
	for _, info := range m.List() {
		if m.IsMember(info.ID, conn) && !want[info.ID] {
			return fmt.Errorf("room %s lists %s but connection does not: %w", info.ID, conn, ErrMembershipFault)
		}
	}
	return nil
}
