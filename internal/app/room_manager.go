package app

import (
	"sync"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

// NewRoomManager returns a registry that already holds the default room.
func NewRoomManager(defaultRoom domain.RoomName) core.RoomManager {
	f := &RoomManagerImpl{rooms: make(map[domain.RoomName]core.RoomService)}
	f.rooms[defaultRoom] = core.NewRoomService(&domain.Room{Name: defaultRoom})
	return f
}

func (f *RoomManagerImpl) GetOrCreate(name domain.RoomName) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[name]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[name]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{Name: name})
	f.rooms[name] = room
	return room
}

func (f *RoomManagerImpl) Get(name domain.RoomName) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[name]
	return room, ok
}

func (f *RoomManagerImpl) Create(name domain.RoomName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[name]; ok {
		return false
	}
	f.rooms[name] = core.NewRoomService(&domain.Room{Name: name})
	return true
}

func (f *RoomManagerImpl) Exists(name domain.RoomName) bool {
	_, ok := f.Get(name)
	return ok
}

func (f *RoomManagerImpl) Names() []domain.RoomName {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.RoomName, 0, len(f.rooms))
	for name := range f.rooms {
		out = append(out, name)
	}
	return out
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	return out
}
