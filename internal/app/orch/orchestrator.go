package orch

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// IncludeSender echoes broadcasts back to their author.
	IncludeSender bool
	// ICEServers are advertised in the welcome envelope.
	ICEServers []webrtc.ICEServer
}

// Orchestrator routes messages between connections and owns their lifecycle.
// It is built once per process and shared by every transport handler.
type Orchestrator struct {
	Registry   *app.Registry
	Rooms      *app.Membership
	Handshakes *app.Handshakes
	Gate       *app.Gatekeeper
	Policy     app.Policy
	Options    Options

	Now func() time.Time

	draining atomic.Bool
}

func New(auth core.Authorizer, policy app.Policy, opts Options) *Orchestrator {
	reg := app.NewRegistry()
	rooms := app.NewMembership(reg)
	hs := app.NewHandshakes()
	hs.Present = rooms.IsMember
	rooms.OnLeave(hs.Forget)

	return &Orchestrator{
		Registry:   reg,
		Rooms:      rooms,
		Handshakes: hs,
		Gate:       &app.Gatekeeper{Auth: auth, Timeout: 5 * time.Second},
		Policy:     policy,
		Options:    opts,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) send(c *app.Connection, out core.Outbound) error {
	frame, err := core.Encode(out)
	if err != nil {
		return err
	}
	return c.Transport.TrySend(frame)
}

// reply sends to the originating connection; failures are only logged.
func (o *Orchestrator) reply(c *app.Connection, out core.Outbound) {
	if err := o.send(c, out); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(c.ID)).Str("kind", string(out.Kind)).Msg("reply not delivered")
	}
}

func (o *Orchestrator) replyError(c *app.Connection, room domain.RoomID, err error) {
	log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("code", string(core.KindOf(err))).Err(err).Msg("rejected message")
	o.reply(c, core.ErrorEnvelope(room, err))
}

// fanout delivers out to a point-in-time snapshot of room, skipping exclude.
// A failing target never stops delivery to the others.
func (o *Orchestrator) fanout(room domain.RoomID, out core.Outbound, exclude domain.ConnID) core.PublishResult {
	res := core.PublishResult{}
	frame, err := core.Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("encode fanout")
		return res
	}

	var kick []domain.ConnID
	for _, m := range o.Rooms.MembersOf(room) {
		if m.Conn == exclude {
			continue
		}
		target, ok := o.Registry.Lookup(m.Conn)
		if !ok {
			continue
		}
		res.Targets++
		if err := target.Transport.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m.Conn)
			log.Warn().Err(err).Str("module", "orch").Str("code", string(core.TransportFailure)).
				Str("room", string(room)).Str("conn", string(m.Conn)).Msg("delivery failed")
			if o.shouldKick(room, m.Conn, err) {
				kick = append(kick, m.Conn)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "orch").Str("room", string(room)).Str("kind", string(out.Kind)).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("fanout result")

	for _, id := range kick {
		o.Close(id, "backpressure")
	}
	return res
}

func (o *Orchestrator) shouldKick(room domain.RoomID, conn domain.ConnID, err error) bool {
	if !errors.Is(err, core.ErrBackpressure) || o.Policy == nil {
		return false
	}
	switch o.Policy.OnBackPressure(room, conn) {
	case app.KickMember:
		return true
	case app.DropFrame, app.NoAction:
	}
	return false
}
