package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDraining = errors.New("relay is draining")

// Accept registers an authenticated transport and activates it.
// An empty id is replaced by a generated one.
func (o *Orchestrator) Accept(id domain.ConnID, t core.SignalConnection, user *domain.User) (*app.Connection, error) {
	if o.draining.Load() {
		return nil, ErrDraining
	}
	if user == nil {
		return nil, core.Errorf(core.Unauthorized, "missing identity")
	}

	c := app.NewConnection(id, t, o.now())
	if _, err := o.Registry.Register(c); err != nil {
		return nil, err
	}
	if err := c.Authenticate(user); err != nil {
		o.Registry.Unregister(c.ID)
		return nil, fmt.Errorf("authenticate %s: %w", c.ID, err)
	}
	if err := c.Transition(app.StateActive); err != nil {
		o.Registry.Unregister(c.ID)
		return nil, fmt.Errorf("activate %s: %w", c.ID, err)
	}

	o.reply(c, core.Outbound{
		Kind:       core.KindWelcome,
		Conn:       c.ID,
		User:       user.ID,
		ICEServers: o.Options.ICEServers,
	})
	log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("user", string(user.ID)).Msg("connection accepted")
	return c, nil
}

// Close moves a connection to closed, removes it from the registry and every
// room, tells the remaining members, and closes the transport. Safe to call twice.
func (o *Orchestrator) Close(id domain.ConnID, reason string) bool {
	c, ok := o.Registry.Lookup(id)
	if !ok {
		return false
	}
	if err := c.Transition(app.StateClosed); err != nil {
		return false
	}

	user := c.UserID()
	rooms := o.Registry.Unregister(id)
	for _, room := range rooms {
		o.fanout(room, core.Outbound{
			Kind:   core.KindPeerLeft,
			Room:   room,
			From:   id,
			User:   user,
			Reason: reason,
		}, id)
	}
	c.Transport.Close()

	log.Info().Str("module", "orch").Str("conn", string(id)).Str("reason", reason).Int("rooms", len(rooms)).Msg("connection closed")
	return true
}

// Fault tears down a single session whose index state turned inconsistent.
func (o *Orchestrator) Fault(id domain.ConnID, err error) {
	log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("internal fault, closing session")
	o.Close(id, "internal fault")
}

// Heartbeat records liveness signalled below the envelope layer (pong frames).
func (o *Orchestrator) Heartbeat(id domain.ConnID) {
	o.Registry.UpdateHeartbeat(id, o.now())
}

// BeginDrain stops accepting connections and moves live ones to draining
// with a shutdown notice.
func (o *Orchestrator) BeginDrain(reason string) int {
	o.draining.Store(true)
	n := 0
	for _, c := range o.Registry.Snapshot() {
		if err := c.Transition(app.StateDraining); err != nil {
			continue
		}
		o.reply(c, core.Outbound{Kind: core.KindShutdown, Reason: reason})
		n++
	}
	log.Info().Str("module", "orch").Int("connections", n).Msg("draining")
	return n
}

func (o *Orchestrator) Draining() bool { return o.draining.Load() }
