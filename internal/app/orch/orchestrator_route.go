package orch

import (
	"context"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Handle processes one inbound frame from conn. Problems are reported to the
// sender as error envelopes and never reach the transport or other connections.
func (o *Orchestrator) Handle(ctx context.Context, conn domain.ConnID, raw []byte) {
	c, ok := o.Registry.Lookup(conn)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Msg("frame from unregistered connection")
		return
	}

	msg, err := core.Decode(raw)
	if err != nil {
		o.replyError(c, "", err)
		return
	}

	switch m := msg.(type) {
	case core.Join:
		o.join(ctx, c, m.Room)
	case core.Leave:
		o.leave(c, m.Room)
	case core.Broadcast:
		o.broadcast(c, m)
	case core.Offer:
		o.relay(c, core.KindOffer, m.Signal)
	case core.Answer:
		o.relay(c, core.KindAnswer, m.Signal)
	case core.Candidate:
		o.relay(c, core.KindCandidate, m.Signal)
	case core.Heartbeat:
		o.Registry.UpdateHeartbeat(conn, o.now())
	default:
		log.Error().Str("module", "orch").Str("kind", string(msg.Kind())).Msg("no route for message kind")
		o.replyError(c, "", core.Errorf(core.MalformedMessage, "unsupported kind %s", msg.Kind()))
	}
}

// Reject answers a frame the transport refused before routing, e.g. rate limited.
func (o *Orchestrator) Reject(conn domain.ConnID, err error) {
	if c, ok := o.Registry.Lookup(conn); ok {
		o.replyError(c, "", err)
	}
}
