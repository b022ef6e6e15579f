package orch

import (
	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/rs/zerolog/log"
)

// relay forwards an offer, answer or candidate to exactly one peer of the room.
// The payload is never looked at.
func (o *Orchestrator) relay(c *app.Connection, kind core.Kind, sig core.Signal) {
	if sig.Target == c.ID {
		o.replyError(c, sig.Room, core.Errorf(core.MalformedMessage, "cannot signal yourself"))
		return
	}
	if !o.Rooms.IsMember(sig.Room, c.ID) {
		if !o.Rooms.Has(sig.Room) {
			o.replyError(c, sig.Room, core.Errorf(core.UnknownRoom, "room %s has no members", sig.Room))
			return
		}
		o.replyError(c, sig.Room, core.Errorf(core.Unauthorized, "not a member of %s", sig.Room))
		return
	}

	peer, ok := o.Registry.Lookup(sig.Target)
	if !ok || !o.Rooms.IsMember(sig.Room, sig.Target) {
		if kind == core.KindCandidate && !sig.Strict {
			// the peer may have left mid-handshake
			log.Debug().Str("module", "orch.signal").Str("conn", string(c.ID)).Str("target", string(sig.Target)).Msg("dropped candidate for departed peer")
			return
		}
		o.replyError(c, sig.Room, core.Errorf(core.UnknownPeer, "%s is not in %s", sig.Target, sig.Room))
		return
	}

	var err error
	switch kind {
	case core.KindOffer:
		err = o.Handshakes.Offer(sig.Room, c.ID, sig.Target)
	case core.KindAnswer:
		err = o.Handshakes.Answer(sig.Room, c.ID, sig.Target)
	case core.KindCandidate:
		err = o.Handshakes.Candidate(sig.Room, c.ID, sig.Target)
	}
	if err != nil {
		o.replyError(c, sig.Room, err)
		return
	}

	err = o.send(peer, core.Outbound{
		Kind:    kind,
		Room:    sig.Room,
		From:    c.ID,
		User:    c.UserID(),
		Payload: sig.Payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.signal").Str("code", string(core.TransportFailure)).
			Str("conn", string(c.ID)).Str("target", string(sig.Target)).Msg("signal not delivered")
		o.replyError(c, sig.Room, core.Wrap(core.TransportFailure, "peer unreachable", err))
		if o.shouldKick(sig.Room, peer.ID, err) {
			o.Close(peer.ID, "backpressure")
		}
		return
	}
	log.Debug().Str("module", "orch.signal").Str("kind", string(kind)).Str("from", string(c.ID)).Str("to", string(sig.Target)).Msg("relayed")
}
