// Package history persists chat messages in BadgerDB.
package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	msgPrefix  = "msg:"
	roomPrefix = "room:"
)

// Store keeps two key families:
//
//	msg:{hex(room)}:{unix nanos, 19 digits}:{uuid} -> record
//	room:{room}                                    -> empty
//
// The room is hex encoded inside message keys so that no room name can be a
// prefix of another room's key range. Zero padding keeps keys in time order.
type Store struct {
	db *badger.DB
}

var _ core.HistoryStore = (*Store)(nil)

type record struct {
	ID       uuid.UUID          `json:"id"`
	Username string             `json:"username"`
	Room     domain.RoomName    `json:"room"`
	Kind     domain.MessageKind `json:"kind"`
	Text     string             `json:"text,omitempty"`
	Audio    []byte             `json:"audio,omitempty"`
	At       time.Time          `json:"at"`
}

// Open opens the database at path. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	log.Info().Str("module", "history").Str("path", path).Bool("in_memory", path == "").Msg("history store opened")
	return New(db), nil
}

func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func messagePrefix(room domain.RoomName) []byte {
	return []byte(msgPrefix + hex.EncodeToString([]byte(room)) + ":")
}

func messageKey(id uuid.UUID, room domain.RoomName, at time.Time) []byte {
	return fmt.Appendf(messagePrefix(room), "%019d:%s", at.UnixNano(), id)
}

func roomKey(room domain.RoomName) []byte {
	return []byte(roomPrefix + string(room))
}

func (s *Store) Append(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	rec := record{
		ID:       uuid.New(),
		Username: msg.Username,
		Room:     msg.Room,
		Kind:     msg.Kind,
		Text:     msg.Text,
		Audio:    msg.Audio,
		At:       msg.CreatedAt.UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(rec.ID, rec.Room, rec.At), value); err != nil {
			return err
		}
		return txn.Set(roomKey(rec.Room), nil)
	})
}

func (s *Store) DistinctRooms(ctx context.Context) ([]domain.RoomName, error) {
	var rooms []domain.RoomName
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(roomPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rooms = append(rooms, domain.RoomName(strings.TrimPrefix(string(it.Item().Key()), roomPrefix)))
		}
		return nil
	})
	return rooms, err
}

func (s *Store) HasRoom(ctx context.Context, room domain.RoomName) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(room))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// FindByRoom walks the room's keys newest first, keeps `limit` of them and
// returns them in chronological order.
func (s *Store) FindByRoom(ctx context.Context, room domain.RoomName, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var recs []record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xff sorts after every digit, so the seek lands on the newest key.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(recs) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	msgs := lo.Map(recs, func(r record, _ int) domain.Message {
		return domain.Message{
			Username:  r.Username,
			Room:      r.Room,
			Kind:      r.Kind,
			Text:      r.Text,
			Audio:     r.Audio,
			CreatedAt: r.At,
		}
	})
	slices.Reverse(msgs)
	return msgs, nil
}
