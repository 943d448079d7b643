package core

import (
	"github.com/dkeye/roomhub/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	// Members returns the handles currently joined, sorted.
	Members() []SessionID
	Has(sid SessionID) bool

	AddMember(ms MemberSession)
	RemoveMember(sid SessionID) bool
	// Broadcast delivers data to every member except `from` (pass "" to include everyone).
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

// RoomManager is the in-memory room registry. Rooms are never removed.
type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	// Create registers an empty room and reports false if it already existed.
	Create(name domain.RoomName) bool
	Exists(name domain.RoomName) bool
	Names() []domain.RoomName
	List() []RoomInfo
}
