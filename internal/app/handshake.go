package app

import (
	"sync"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

type Phase int

const (
	PhaseOffered Phase = iota + 1
	PhaseAnswered
)

// Handshake is the in-flight signaling exchange between two peers of a room.
type Handshake struct {
	Offerer  domain.ConnID
	Answerer domain.ConnID
	Phase    Phase
}

type pairKey struct{ lo, hi domain.ConnID }

func keyOf(a, b domain.ConnID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type roomHandshakes struct {
	mu      sync.Mutex
	pairs   map[pairKey]*Handshake
	evicted bool
}

// Handshakes tracks offer/answer ordering per room and peer pair.
type Handshakes struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomHandshakes

	// Present reports room membership. Offer consults it under the room's
	// lock, so a record is never written after a peer's Forget.
	Present func(room domain.RoomID, conn domain.ConnID) bool
}

func NewHandshakes() *Handshakes {
	return &Handshakes{rooms: make(map[domain.RoomID]*roomHandshakes)}
}

func (h *Handshakes) room(id domain.RoomID, create bool) *roomHandshakes {
	h.mu.RLock()
	rh, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok || !create {
		return rh
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if rh, ok = h.rooms[id]; ok {
		return rh
	}
	rh = &roomHandshakes{pairs: make(map[pairKey]*Handshake)}
	h.rooms[id] = rh
	return rh
}

// with runs fn under the room's lock, creating the room record if asked.
func (h *Handshakes) with(room domain.RoomID, create bool, fn func(rh *roomHandshakes) error) error {
	for {
		rh := h.room(room, create)
		if rh == nil {
			return fn(nil)
		}
		rh.mu.Lock()
		if rh.evicted {
			rh.mu.Unlock()
			continue
		}
		err := fn(rh)
		empty := len(rh.pairs) == 0
		if empty {
			rh.evicted = true
		}
		rh.mu.Unlock()
		if empty {
			h.mu.Lock()
			if h.rooms[room] == rh {
				delete(h.rooms, room)
			}
			h.mu.Unlock()
		}
		return err
	}
}

// Offer opens a handshake from -> to. An existing handshake for the pair,
// in either direction or phase, is replaced: that is renegotiation.
func (h *Handshakes) Offer(room domain.RoomID, from, to domain.ConnID) error {
	return h.with(room, true, func(rh *roomHandshakes) error {
		if h.Present != nil {
			if !h.Present(room, to) {
				return core.Errorf(core.UnknownPeer, "%s is not in %s", to, room)
			}
			if !h.Present(room, from) {
				return core.Errorf(core.Unauthorized, "not a member of %s", room)
			}
		}
		rh.pairs[keyOf(from, to)] = &Handshake{Offerer: from, Answerer: to, Phase: PhaseOffered}
		return nil
	})
}

// Answer consumes the offer to -> from. Without one it is a StaleHandshake.
func (h *Handshakes) Answer(room domain.RoomID, from, to domain.ConnID) error {
	return h.with(room, false, func(rh *roomHandshakes) error {
		if rh == nil {
			return core.Errorf(core.StaleHandshake, "no offer from %s", to)
		}
		hs, ok := rh.pairs[keyOf(from, to)]
		if !ok || hs.Phase != PhaseOffered || hs.Offerer != to || hs.Answerer != from {
			return core.Errorf(core.StaleHandshake, "no pending offer from %s", to)
		}
		hs.Phase = PhaseAnswered
		return nil
	})
}

// Candidate accepts ICE candidates in either direction once an offer was seen.
func (h *Handshakes) Candidate(room domain.RoomID, from, to domain.ConnID) error {
	return h.with(room, false, func(rh *roomHandshakes) error {
		if rh == nil {
			return core.Errorf(core.StaleHandshake, "no handshake with %s", to)
		}
		if _, ok := rh.pairs[keyOf(from, to)]; !ok {
			return core.Errorf(core.StaleHandshake, "no handshake with %s", to)
		}
		return nil
	})
}

// Forget drops every handshake conn takes part in within room.
func (h *Handshakes) Forget(room domain.RoomID, conn domain.ConnID) {
	_ = h.with(room, false, func(rh *roomHandshakes) error {
		if rh == nil {
			return nil
		}
		for k := range rh.pairs {
			if k.lo == conn || k.hi == conn {
				delete(rh.pairs, k)
			}
		}
		return nil
	})
}

func (h *Handshakes) Lookup(room domain.RoomID, a, b domain.ConnID) (Handshake, bool) {
	var out Handshake
	var found bool
	_ = h.with(room, false, func(rh *roomHandshakes) error {
		if rh == nil {
			return nil
		}
		if hs, ok := rh.pairs[keyOf(a, b)]; ok {
			out, found = *hs, true
		}
		return nil
	})
	return out, found
}
