package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/tidwall/gjson"
)

// Kind tags an envelope on the wire.
type Kind string

// Inbound kinds.
const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindBroadcast Kind = "broadcast"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindHeartbeat Kind = "heartbeat"
)

// Outbound-only kinds.
const (
	KindWelcome    Kind = "welcome"
	KindJoined     Kind = "joined"
	KindLeft       Kind = "left"
	KindPeerJoined Kind = "peer-joined"
	KindPeerLeft   Kind = "peer-left"
	KindShutdown   Kind = "shutdown"
	KindError      Kind = "error"
)

// Message is one decoded inbound envelope. The concrete type identifies the kind.
type Message interface {
	Kind() Kind
}

type Join struct {
	Room domain.RoomID
}

type Leave struct {
	Room domain.RoomID
}

type Broadcast struct {
	Room    domain.RoomID
	Payload json.RawMessage
}

// Signal carries the fields shared by offer, answer and candidate.
type Signal struct {
	Room    domain.RoomID
	Target  domain.ConnID
	Payload json.RawMessage
	// Strict asks for an unknown_peer error instead of a silent drop
	// when a candidate targets a peer that already left.
	Strict bool
}

type Offer struct{ Signal }
type Answer struct{ Signal }
type Candidate struct{ Signal }

type Heartbeat struct{}

func (Join) Kind() Kind      { return KindJoin }
func (Leave) Kind() Kind     { return KindLeave }
func (Broadcast) Kind() Kind { return KindBroadcast }
func (Offer) Kind() Kind     { return KindOffer }
func (Answer) Kind() Kind    { return KindAnswer }
func (Candidate) Kind() Kind { return KindCandidate }
func (Heartbeat) Kind() Kind { return KindHeartbeat }

type inboundEnvelope struct {
	Kind    Kind            `json:"kind"`
	Room    string          `json:"room,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Strict  bool            `json:"strict,omitempty"`
}

// Decode validates raw against the wire schema and returns the matching variant.
// Every failure is a MalformedMessage *Error.
func Decode(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, Errorf(MalformedMessage, "invalid json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, Errorf(MalformedMessage, "envelope must be an object")
	}
	if err := checkKeys(root); err != nil {
		return nil, err
	}
	kind := root.Get("kind")
	if kind.Type != gjson.String || kind.Str == "" {
		return nil, Errorf(MalformedMessage, "missing kind")
	}

	var env inboundEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, Wrap(MalformedMessage, "schema violation", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, Errorf(MalformedMessage, "trailing data after envelope")
	}
	if env.Strict && env.Kind != KindCandidate {
		return nil, Errorf(MalformedMessage, "strict is only valid on candidate")
	}

	switch env.Kind {
	case KindJoin:
		room, err := env.room()
		if err != nil {
			return nil, err
		}
		if err := env.forbid(true); err != nil {
			return nil, err
		}
		return Join{Room: room}, nil
	case KindLeave:
		room, err := env.room()
		if err != nil {
			return nil, err
		}
		if err := env.forbid(true); err != nil {
			return nil, err
		}
		return Leave{Room: room}, nil
	case KindBroadcast:
		room, err := env.room()
		if err != nil {
			return nil, err
		}
		if err := env.forbid(false); err != nil {
			return nil, err
		}
		if !hasPayload(env.Payload) {
			return nil, Errorf(MalformedMessage, "broadcast requires payload")
		}
		return Broadcast{Room: room, Payload: env.Payload}, nil
	case KindOffer, KindAnswer, KindCandidate:
		sig, err := env.signal()
		if err != nil {
			return nil, err
		}
		switch env.Kind {
		case KindOffer:
			return Offer{sig}, nil
		case KindAnswer:
			return Answer{sig}, nil
		default:
			return Candidate{sig}, nil
		}
	case KindHeartbeat:
		if env.Room != "" || env.Target != "" || hasPayload(env.Payload) {
			return nil, Errorf(MalformedMessage, "heartbeat carries no fields")
		}
		return Heartbeat{}, nil
	}
	return nil, Errorf(MalformedMessage, "unknown kind %q", env.Kind)
}

var envelopeKeys = map[string]bool{
	"kind":    true,
	"room":    true,
	"target":  true,
	"payload": true,
	"strict":  true,
}

// checkKeys enforces exact, lowercase field names, each at most once.
func checkKeys(root gjson.Result) error {
	seen := make(map[string]bool, len(envelopeKeys))
	var err error
	root.ForEach(func(key, _ gjson.Result) bool {
		name := key.String()
		switch {
		case !envelopeKeys[name]:
			err = Errorf(MalformedMessage, "unknown field %q", name)
		case seen[name]:
			err = Errorf(MalformedMessage, "duplicate field %q", name)
		default:
			seen[name] = true
			return true
		}
		return false
	})
	return err
}

func (e inboundEnvelope) room() (domain.RoomID, error) {
	room, err := domain.ParseRoomID(e.Room)
	if err != nil {
		return "", Wrap(MalformedMessage, "bad room", err)
	}
	return room, nil
}

// forbid rejects a target, and optionally a payload, on kinds that address a room only.
func (e inboundEnvelope) forbid(payload bool) error {
	if e.Target != "" {
		return Errorf(MalformedMessage, "%s does not take a target", e.Kind)
	}
	if payload && hasPayload(e.Payload) {
		return Errorf(MalformedMessage, "%s does not take a payload", e.Kind)
	}
	return nil
}

func (e inboundEnvelope) signal() (Signal, error) {
	room, err := e.room()
	if err != nil {
		return Signal{}, err
	}
	if e.Target == "" {
		return Signal{}, Errorf(MalformedMessage, "%s requires target", e.Kind)
	}
	if !hasPayload(e.Payload) {
		return Signal{}, Errorf(MalformedMessage, "%s requires payload", e.Kind)
	}
	return Signal{
		Room:    room,
		Target:  domain.ConnID(e.Target),
		Payload: e.Payload,
		Strict:  e.Strict,
	}, nil
}

func hasPayload(p json.RawMessage) bool {
	return len(p) > 0 && !bytes.Equal(bytes.TrimSpace(p), []byte("null"))
}
