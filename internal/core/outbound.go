package core

import (
	"encoding/json"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ErrorBody is the error part of an error envelope.
type ErrorBody struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}

// Outbound is every envelope the relay sends. Unused fields are omitted.
type Outbound struct {
	Kind       Kind               `json:"kind"`
	Room       domain.RoomID      `json:"room,omitempty"`
	From       domain.ConnID      `json:"from,omitempty"`
	User       domain.UserID      `json:"user,omitempty"`
	Conn       domain.ConnID      `json:"conn,omitempty"`
	Role       *domain.Permission `json:"role,omitempty"`
	Members    []domain.Member    `json:"members,omitempty"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`
	Error      *ErrorBody         `json:"error,omitempty"`
}

func Encode(o Outbound) (Frame, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// ErrorEnvelope builds the reply for a failed inbound message.
func ErrorEnvelope(room domain.RoomID, err error) Outbound {
	return Outbound{
		Kind:  KindError,
		Room:  room,
		Error: &ErrorBody{Code: KindOf(err), Message: MessageOf(err)},
	}
}
