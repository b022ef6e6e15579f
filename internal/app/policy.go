package app

import "github.com/dkeye/Collab/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member domain.ConnID) BackpressureAction
}

// SimplePolicy disconnects slow members.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, domain.ConnID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the member.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.RoomID, domain.ConnID) BackpressureAction {
	return DropFrame
}

// PolicyFor maps the ws.overflow setting to a policy.
func PolicyFor(overflow string) Policy {
	if overflow == "disconnect" {
		return SimplePolicy{}
	}
	return TolerantPolicy{}
}
