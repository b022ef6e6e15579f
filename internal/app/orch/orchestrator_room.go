package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

func (o *Orchestrator) join(ctx context.Context, c *app.Connection, room domain.RoomID) {
	if c.State() != app.StateActive {
		o.replyError(c, room, core.Errorf(core.Unauthorized, "connection is %s", c.State()))
		return
	}
	role, err := o.Gate.Resolve(ctx, c, room)
	if err != nil {
		o.replyError(c, room, err)
		return
	}

	added, err := o.Rooms.Join(room, c.ID, role)
	switch {
	case errors.Is(err, app.ErrMembershipFault):
		o.Fault(c.ID, err)
		return
	case errors.Is(err, app.ErrUnknownConnection):
		o.replyError(c, room, core.Wrap(core.Unauthorized, "connection is not active", err))
		return
	case err != nil:
		o.replyError(c, room, err)
		return
	}

	o.reply(c, core.Outbound{
		Kind:    core.KindJoined,
		Room:    room,
		Conn:    c.ID,
		Role:    &role,
		Members: o.Rooms.MembersOf(room),
	})
	if added {
		o.fanout(room, core.Outbound{
			Kind: core.KindPeerJoined,
			Room: room,
			From: c.ID,
			User: c.UserID(),
			Role: &role,
		}, c.ID)
	}
}

// leave is idempotent: the sender always gets "left".
func (o *Orchestrator) leave(c *app.Connection, room domain.RoomID) {
	left, err := o.Rooms.Leave(room, c.ID)
	if err != nil {
		o.Fault(c.ID, err)
		return
	}
	o.reply(c, core.Outbound{Kind: core.KindLeft, Room: room})
	if left {
		o.fanout(room, core.Outbound{
			Kind:   core.KindPeerLeft,
			Room:   room,
			From:   c.ID,
			User:   c.UserID(),
			Reason: "left",
		}, c.ID)
	}
}

func (o *Orchestrator) broadcast(c *app.Connection, m core.Broadcast) {
	role, member := c.Role(m.Room)
	switch {
	case !member && !o.Rooms.Has(m.Room):
		o.replyError(c, m.Room, core.Errorf(core.UnknownRoom, "room %s has no members", m.Room))
		return
	case !member:
		o.replyError(c, m.Room, core.Errorf(core.Unauthorized, "not a member of %s", m.Room))
		return
	case !role.CanWrite():
		o.replyError(c, m.Room, core.Errorf(core.Unauthorized, "read-only in %s", m.Room))
		return
	}

	exclude := c.ID
	if o.Options.IncludeSender {
		exclude = ""
	}
	res := o.fanout(m.Room, core.Outbound{
		Kind:    core.KindBroadcast,
		Room:    m.Room,
		From:    c.ID,
		User:    c.UserID(),
		Payload: m.Payload,
	}, exclude)
	if res.AllFailed() {
		o.replyError(c, m.Room, core.Errorf(core.TransportFailure, "no member of %s could be reached", m.Room))
	}
}
