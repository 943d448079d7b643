package app

import (
	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose outbound buffer rejected a frame.
// room is empty for deliveries that are not scoped to a room.
type Policy interface {
	OnBackPressure(room domain.RoomName, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomName, member core.MemberSession) BackpressureAction {
	return KickMember
}
