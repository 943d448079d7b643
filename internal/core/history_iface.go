package core

import (
	"context"

	"github.com/dkeye/roomhub/internal/domain"
)

// HistoryStore is the durable message log the coordinator consults.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	Append(ctx context.Context, msg domain.Message) error
	// DistinctRooms lists every room that has at least one stored message.
	DistinctRooms(ctx context.Context) ([]domain.RoomName, error)
	HasRoom(ctx context.Context, room domain.RoomName) (bool, error)
	// FindByRoom returns at most limit of the newest messages, oldest first.
	FindByRoom(ctx context.Context, room domain.RoomName, limit int) ([]domain.Message, error)
}
