package orch

import (
	"context"
	"time"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

const drainPoll = 50 * time.Millisecond

// Supervisor evicts silent connections and runs graceful shutdown.
type Supervisor struct {
	Orch             *Orchestrator
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Grace            time.Duration
}

// Run sweeps until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.SweepInterval)
	defer ticker.Stop()
	log.Info().Str("module", "orch.supervisor").Dur("timeout", s.HeartbeatTimeout).Dur("interval", s.SweepInterval).Msg("supervisor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.Orch.now())
		}
	}
}

// Sweep closes every connection whose last heartbeat is older than the timeout.
func (s *Supervisor) Sweep(now time.Time) []domain.ConnID {
	var evicted []domain.ConnID
	for _, c := range s.Orch.Registry.Snapshot() {
		if now.Sub(c.LastHeartbeat()) <= s.HeartbeatTimeout {
			continue
		}
		if s.Orch.Close(c.ID, "heartbeat timeout") {
			evicted = append(evicted, c.ID)
		}
	}
	if len(evicted) > 0 {
		log.Info().Str("module", "orch.supervisor").Int("evicted", len(evicted)).Msg("heartbeat sweep")
	}
	return evicted
}

// Shutdown drains every connection, waits up to Grace (or ctx) for clients to
// go away, then force-closes whatever is left.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Orch.BeginDrain("server shutting down")

	grace := time.NewTimer(s.Grace)
	defer grace.Stop()
	poll := time.NewTicker(drainPoll)
	defer poll.Stop()

wait:
	for s.Orch.Registry.Len() > 0 {
		select {
		case <-ctx.Done():
			break wait
		case <-grace.C:
			break wait
		case <-poll.C:
		}
	}

	forced := 0
	for _, c := range s.Orch.Registry.Snapshot() {
		if s.Orch.Close(c.ID, "shutdown") {
			forced++
		}
	}
	log.Info().Str("module", "orch.supervisor").Int("forced", forced).Msg("shutdown complete")
	return nil
}
