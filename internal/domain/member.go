package domain

import "github.com/google/uuid"

// ConnID identifies one transport connection. A user may hold several.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Member represents a connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	Conn ConnID     `json:"conn"`
	User UserID     `json:"user"`
	Role Permission `json:"role"`
}
