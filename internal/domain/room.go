package domain

import (
	"slices"
	"strings"
)

type RoomName string

type Room struct {
	Name RoomName
}

// NormalizeRoomName trims and lower-cases a client supplied room name.
// The result may be empty.
func NormalizeRoomName(raw string) RoomName {
	return RoomName(strings.ToLower(strings.TrimSpace(raw)))
}

// SortRooms orders names in place: def first, everything else lexicographically.
func SortRooms(names []RoomName, def RoomName) {
	slices.SortFunc(names, func(a, b RoomName) int {
		switch {
		case a == b:
			return 0
		case a == def:
			return -1
		case b == def:
			return 1
		}
		return strings.Compare(string(a), string(b))
	})
}
