package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func textAt(t *testing.T, room domain.RoomName, text string, at time.Time) domain.Message {
	t.Helper()
	m, err := domain.NewTextMessage("alice", room, text, at)
	require.NoError(t, err)
	return m
}

func Test_FindByRoom_NewestOldestFirst(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newStore(t)
	at := time.Now().UTC()

	for i := 0; i < 5; i++ {
		req.NoError(store.Append(ctx, textAt(t, "team", fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Minute))))
	}
	req.NoError(store.Append(ctx, textAt(t, "other", "noise", at)))

	msgs, err := store.FindByRoom(ctx, "team", 3)
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal("m2", msgs[0].Text)
	req.Equal("m4", msgs[2].Text)
	req.True(msgs[0].CreatedAt.Before(msgs[2].CreatedAt))

	all, err := store.FindByRoom(ctx, "team", 50)
	req.NoError(err)
	req.Len(all, 5)
}

func Test_RoomPrefixesDoNotOverlap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newStore(t)
	at := time.Now().UTC()

	req.NoError(store.Append(ctx, textAt(t, "a", "short", at)))
	req.NoError(store.Append(ctx, textAt(t, "a:b", "long", at)))

	msgs, err := store.FindByRoom(ctx, "a", 10)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("short", msgs[0].Text)
}

func Test_DistinctRoomsAndHasRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newStore(t)
	at := time.Now().UTC()

	req.NoError(store.Append(ctx, textAt(t, "beta", "x", at)))
	req.NoError(store.Append(ctx, textAt(t, "alpha", "y", at)))
	req.NoError(store.Append(ctx, textAt(t, "beta", "z", at.Add(time.Second))))

	rooms, err := store.DistinctRooms(ctx)
	req.NoError(err)
	req.ElementsMatch([]domain.RoomName{"alpha", "beta"}, rooms)

	ok, err := store.HasRoom(ctx, "alpha")
	req.NoError(err)
	req.True(ok)
	ok, err = store.HasRoom(ctx, "gamma")
	req.NoError(err)
	req.False(ok)
}

func Test_AudioBytesSurvive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newStore(t)

	clip := []byte{0x00, 0xff, 0x10, 0x80, 0x7f}
	m, err := domain.NewAudioMessage("bob", "voice", clip, time.Now())
	req.NoError(err)
	req.NoError(store.Append(ctx, m))

	msgs, err := store.FindByRoom(ctx, "voice", 50)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(domain.KindAudio, msgs[0].Kind)
	req.Equal(clip, msgs[0].Audio)
	req.Empty(msgs[0].Text)
}

func Test_AppendRejectsInvalidMessage(t *testing.T) {
	store := newStore(t)
	err := store.Append(context.Background(), domain.Message{Username: "x", Room: "r", Kind: domain.KindText})
	require.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func Test_OpenInMemory(t *testing.T) {
	req := require.New(t)
	store, err := Open("")
	req.NoError(err)
	defer store.Close()

	req.NoError(store.Append(context.Background(), textAt(t, "mem", "hi", time.Now())))
	ok, err := store.HasRoom(context.Background(), "mem")
	req.NoError(err)
	req.True(ok)
}

func Test_CanceledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Append(ctx, textAt(t, "r", "x", time.Now())), context.Canceled)
}
