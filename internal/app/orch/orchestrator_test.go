package orch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomhub/internal/app"
	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/stretchr/testify/require"
)

const lobby = domain.RoomName("público")

var (
	errClosed = errors.New("closed")
	errFull   = errors.New("full")
)

type delivery struct {
	to  core.SessionID
	evt map[string]any
}

// wire records every frame delivered to any fake connection in global order.
type wire struct {
	mu  sync.Mutex
	log []delivery
}

func (w *wire) all() []delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]delivery(nil), w.log...)
}

func (w *wire) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.log)
}

type fakeConn struct {
	sid    core.SessionID
	wire   *wire
	limit  int
	mu     sync.Mutex
	count  int
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	if f.limit > 0 && f.count >= f.limit {
		return errFull
	}
	var evt map[string]any
	if err := json.Unmarshal(fr, &evt); err != nil {
		return err
	}
	f.count++
	f.wire.mu.Lock()
	f.wire.log = append(f.wire.log, delivery{to: f.sid, evt: evt})
	f.wire.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStore struct {
	mu   sync.Mutex
	msgs []domain.Message
	fail bool
}

var errStore = errors.New("disk on fire")

func (s *fakeStore) Append(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStore
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *fakeStore) DistinctRooms(context.Context) ([]domain.RoomName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errStore
	}
	var out []domain.RoomName
	for _, m := range s.msgs {
		out = append(out, m.Room)
	}
	return out, nil
}

func (s *fakeStore) HasRoom(_ context.Context, room domain.RoomName) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errStore
	}
	for _, m := range s.msgs {
		if m.Room == room {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) FindByRoom(_ context.Context, room domain.RoomName, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errStore
	}
	var out []domain.Message
	for _, m := range s.msgs {
		if m.Room == room {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type harness struct {
	o     *Orchestrator
	store *fakeStore
	wire  *wire
	conns map[core.SessionID]*fakeConn
}

func newHarness() *harness {
	store := &fakeStore{}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	var tickMu sync.Mutex
	o := &Orchestrator{
		Registry:    app.NewRegistry(),
		Rooms:       app.NewRoomManager(lobby),
		Policy:      app.SimplePolicy{},
		History:     store,
		DefaultRoom: lobby,
		Now: func() time.Time {
			tickMu.Lock()
			defer tickMu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	}
	return &harness{o: o, store: store, wire: &wire{}, conns: make(map[core.SessionID]*fakeConn)}
}

func (h *harness) connect(t *testing.T, sid core.SessionID) *fakeConn {
	t.Helper()
	conn := &fakeConn{sid: sid, wire: h.wire}
	h.conns[sid] = conn
	h.o.Connect(context.Background(), core.NewMemberSession(sid, conn))
	return conn
}

func (h *harness) user(t *testing.T, sid core.SessionID, name string) *fakeConn {
	t.Helper()
	conn := h.connect(t, sid)
	require.NoError(t, h.o.Announce(context.Background(), sid, name))
	return conn
}

// since returns deliveries to sid after the given wire position.
func (h *harness) since(pos int, sid core.SessionID) []map[string]any {
	var out []map[string]any
	for _, d := range h.wire.all()[pos:] {
		if d.to == sid {
			out = append(out, d.evt)
		}
	}
	return out
}

func typesOf(evts []map[string]any) []string {
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e["type"].(string))
	}
	return out
}

func ofType(evts []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, e := range evts {
		if e["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) roomsOf(sid core.SessionID) []domain.RoomName {
	var out []domain.RoomName
	for _, name := range h.o.Rooms.Names() {
		rs, _ := h.o.Rooms.Get(name)
		if rs.Has(sid) {
			out = append(out, name)
		}
	}
	return out
}

func TestConnect_WelcomeAndKnownRooms(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.connect(t, "a")

	evts := h.since(0, "a")
	req.Equal([]string{"welcome", "known-rooms-list"}, typesOf(evts))
	req.Equal("a", evts[0]["handle"])
	req.Equal([]any{"público"}, evts[1]["rooms"])
}

func TestAnnounce_JoinsDefaultRoomOnce(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.connect(t, "a")

	pos := h.wire.len()
	req.NoError(h.o.Announce(context.Background(), "a", "alice"))
	req.Equal([]string{"room-joined", "history", "known-rooms-list"}, typesOf(h.since(pos, "a")))
	req.Equal([]domain.RoomName{lobby}, h.roomsOf("a"))

	pos = h.wire.len()
	req.NoError(h.o.Announce(context.Background(), "a", "alicia"))
	req.Empty(h.since(pos, "a"))
	u, _ := h.o.Registry.UserOf("a")
	req.Equal("alicia", u.Username)

	req.ErrorIs(h.o.Announce(context.Background(), "a", "  "), domain.ErrUsernameEmpty)
}

func TestScenario_CreateThenJoin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	_, err := h.o.Join(ctx, "a", "Team X")
	req.ErrorIs(err, domain.ErrRoomNotFound)

	pos := h.wire.len()
	name, err := h.o.Create(ctx, "a", "Team X")
	req.NoError(err)
	req.Equal(domain.RoomName("team x"), name)
	created := ofType(h.since(pos, "a"), "room-created")
	req.Len(created, 1)
	req.Equal("team x", created[0]["room"])
	req.Equal([]domain.RoomName{lobby}, h.roomsOf("a"))

	pos = h.wire.len()
	name, err = h.o.Join(ctx, "a", "team x ")
	req.NoError(err)
	req.Equal(domain.RoomName("team x"), name)
	toA := h.since(pos, "a")
	req.Equal("team x", ofType(toA, "room-joined")[0]["room"])
	req.Empty(ofType(toA, "peer-present"))
	req.Equal([]domain.RoomName{lobby}, h.roomsOf("b"))
	left := ofType(h.since(pos, "b"), "left")
	req.Len(left, 1)
	req.Equal("a", left[0]["handle"])

	pos = h.wire.len()
	_, err = h.o.Join(ctx, "b", "Team X")
	req.NoError(err)
	toA = h.since(pos, "a")
	arrived := ofType(toA, "member-arrived")
	req.Len(arrived, 1)
	req.Equal("bob", arrived[0]["username"])
	req.Equal("b", arrived[0]["handle"])
	req.Empty(ofType(toA, "peer-present"))

	present := ofType(h.since(pos, "b"), "peer-present")
	req.Len(present, 1)
	req.Equal("a", present[0]["handle"])
}

func TestJoin_LeftPrecedesJoined(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")
	_, err := h.o.Create(ctx, "a", "x")
	req.NoError(err)

	pos := h.wire.len()
	_, err = h.o.Join(ctx, "a", "x")
	req.NoError(err)

	leftAt, joinedAt, lefts := -1, -1, 0
	for i, d := range h.wire.all()[pos:] {
		switch d.evt["type"] {
		case "left":
			lefts++
			leftAt = i
		case "room-joined":
			joinedAt = i
		}
	}
	req.Equal(1, lefts)
	req.Less(leftAt, joinedAt)
}

func TestJoin_SameRoomAgainRejoins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	pos := h.wire.len()
	_, err := h.o.Join(ctx, "a", string(lobby))
	req.NoError(err)
	toB := typesOf(h.since(pos, "b"))
	req.Contains(toB, "left")
	req.Contains(toB, "member-arrived")
	req.Equal([]domain.RoomName{lobby}, h.roomsOf("a"))
}

func TestJoin_AtMostOneRoomUnderConcurrency(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	rooms := []string{"r1", "r2", "r3", "r4"}
	sids := []core.SessionID{"a", "b", "c", "d", "e"}
	for _, sid := range sids {
		h.user(t, sid, string(sid))
	}
	for _, r := range rooms {
		_, err := h.o.Create(ctx, "a", r)
		req.NoError(err)
	}

	var wg sync.WaitGroup
	for i, sid := range sids {
		wg.Add(1)
		go func(i int, sid core.SessionID) {
			defer wg.Done()
			for n := 0; n < 40; n++ {
				_, _ = h.o.Join(ctx, sid, rooms[(i+n)%len(rooms)])
			}
		}(i, sid)
	}
	wg.Wait()

	for _, sid := range sids {
		in := h.roomsOf(sid)
		req.Len(in, 1, "sid %s", sid)
		current, _, ok := h.o.Registry.RoomOf(sid)
		req.True(ok)
		req.Equal(in[0], current)
	}
}

func TestJoin_HistoryNewestFiftyOldestFirst(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		m, err := domain.NewTextMessage("old", "archive", fmt.Sprintf("m%02d", i), base.Add(time.Duration(i)*time.Minute))
		req.NoError(err)
		h.store.msgs = append(h.store.msgs, m)
	}
	h.user(t, "a", "alice")

	pos := h.wire.len()
	_, err := h.o.Join(ctx, "a", "Archive")
	req.NoError(err)

	hist := ofType(h.since(pos, "a"), "history")
	req.Len(hist, 1)
	msgs := hist[0]["messages"].([]any)
	req.Len(msgs, MaxHistory)
	req.Equal("m10", msgs[0].(map[string]any)["text"])
	req.Equal("m59", msgs[len(msgs)-1].(map[string]any)["text"])
}

func TestDisconnect_CleansUpAndDropsRelays(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	pos := h.wire.len()
	req.NoError(h.o.RelayOffer("a", "b", json.RawMessage(`{"sdp":"v=0"}`)))
	offers := h.since(pos, "b")
	req.Len(offers, 1)
	req.Equal("offer", offers[0]["type"])
	req.Equal("a", offers[0]["sender"])
	req.Equal(map[string]any{"sdp": "v=0"}, offers[0]["sdp"])
	req.Empty(h.since(pos, "a"))

	pos = h.wire.len()
	h.o.OnDisconnect(ctx, "b")
	left := ofType(h.since(pos, "a"), "left")
	req.Len(left, 1)
	req.Equal("b", left[0]["handle"])
	req.Empty(h.roomsOf("b"))

	pos = h.wire.len()
	req.NoError(h.o.RelayICECandidate("a", "b", json.RawMessage(`"candidate:1"`)))
	req.Equal(pos, h.wire.len())

	h.o.OnDisconnect(ctx, "b")
	req.Equal(pos, h.wire.len())
}

func TestRelay_AllKindsAndNoEcho(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	pos := h.wire.len()
	req.NoError(h.o.RelayAnswer("a", "b", json.RawMessage(`"garbage"`)))
	req.NoError(h.o.RelayHangup("a", "b"))
	req.NoError(h.o.RelayReject("a", "b", json.RawMessage(`"no thanks"`)))
	req.NoError(h.o.RelayBusy("a", "b"))
	req.NoError(h.o.RelayOffer("a", "a", json.RawMessage(`"self"`)))

	toB := h.since(pos, "b")
	req.Equal([]string{"answer", "hangup", "reject", "busy"}, typesOf(toB))
	req.Equal("garbage", toB[0]["sdp"])
	req.Equal("no thanks", toB[2]["reason"])
	req.Empty(h.since(pos, "a"))
}

func TestIdentityRequired(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.connect(t, "anon")
	h.user(t, "b", "bob")

	pos := h.wire.len()
	_, err := h.o.Join(ctx, "anon", string(lobby))
	req.ErrorIs(err, domain.ErrIdentityRequired)
	_, err = h.o.Create(ctx, "anon", "x")
	req.ErrorIs(err, domain.ErrIdentityRequired)
	req.ErrorIs(h.o.SendText(ctx, "anon", "hi", ""), domain.ErrIdentityRequired)
	req.ErrorIs(h.o.SendAudio(ctx, "anon", "AAEC", ""), domain.ErrIdentityRequired)
	req.ErrorIs(h.o.RelayOffer("anon", "b", json.RawMessage(`"x"`)), domain.ErrIdentityRequired)

	req.Equal(pos, h.wire.len())
	req.Empty(h.roomsOf("anon"))
	req.False(h.o.Rooms.Exists("x"))
}

func TestCreate_Rejections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	m, err := domain.NewTextMessage("old", "archived", "hello", time.Now())
	req.NoError(err)
	h.store.msgs = append(h.store.msgs, m)

	_, err = h.o.Create(ctx, "a", "   ")
	req.ErrorIs(err, domain.ErrInvalidRoomName)
	_, err = h.o.Create(ctx, "a", " PÚBLICO")
	req.ErrorIs(err, domain.ErrInvalidRoomName)
	_, err = h.o.Create(ctx, "a", "Archived")
	req.ErrorIs(err, domain.ErrRoomAlreadyExists)
	_, err = h.o.Create(ctx, "a", "fresh")
	req.NoError(err)
	_, err = h.o.Create(ctx, "a", "FRESH")
	req.ErrorIs(err, domain.ErrRoomAlreadyExists)
	_, err = h.o.Join(ctx, "a", "")
	req.ErrorIs(err, domain.ErrInvalidRoomName)
}

func TestKnownRooms_UnionSortedDeduplicated(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	for _, r := range []domain.RoomName{"zeta", "alpha", lobby, "alpha"} {
		m, err := domain.NewTextMessage("u", r, "x", time.Now())
		req.NoError(err)
		h.store.msgs = append(h.store.msgs, m)
	}
	h.o.Rooms.GetOrCreate("alpha")
	h.o.Rooms.Create("beta")

	req.Equal([]domain.RoomName{lobby, "alpha", "beta", "zeta"}, h.o.KnownRooms(ctx))

	h.store.fail = true
	req.Equal([]domain.RoomName{lobby, "alpha", "beta"}, h.o.KnownRooms(ctx))
}

func TestRefreshPresence_ReachesEveryConnection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.connect(t, "anon")
	h.user(t, "a", "alice")

	pos := h.wire.len()
	_, err := h.o.Create(ctx, "a", "new room")
	req.NoError(err)

	for _, sid := range []core.SessionID{"anon", "a"} {
		lists := ofType(h.since(pos, sid), "known-rooms-list")
		req.Len(lists, 1)
		req.Equal([]any{"público", "new room"}, lists[0]["rooms"])
	}
}

func TestSendText_DeliveredAndPersisted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	pos := h.wire.len()
	req.NoError(h.o.SendText(ctx, "a", "hello", ""))
	for _, sid := range []core.SessionID{"a", "b"} {
		msgs := ofType(h.since(pos, sid), "new-text-message")
		req.Len(msgs, 1)
		req.Equal("alice", msgs[0]["username"])
		req.Equal("hello", msgs[0]["text"])
		req.Equal("público", msgs[0]["room"])
	}
	req.Len(h.store.msgs, 1)
	req.Equal(domain.KindText, h.store.msgs[0].Kind)

	req.ErrorIs(h.o.SendText(ctx, "a", "hello", "elsewhere"), domain.ErrNotRoomMember)
	req.ErrorIs(h.o.SendText(ctx, "a", "", ""), domain.ErrInvalidMessage)
}

func TestSendText_PersistenceFailureStillDelivers(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")
	h.store.fail = true

	pos := h.wire.len()
	req.NoError(h.o.SendText(context.Background(), "a", "still here", "PÚBLICO"))
	req.Len(ofType(h.since(pos, "b"), "new-text-message"), 1)
	req.Empty(h.store.msgs)
}

func TestSendAudio_RoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	h.user(t, "b", "bob")

	clip := make([]byte, 257)
	for i := range clip {
		clip[i] = byte(i * 7)
	}
	payload := base64.StdEncoding.EncodeToString(clip)

	pos := h.wire.len()
	req.NoError(h.o.SendAudio(ctx, "a", payload, ""))
	got := ofType(h.since(pos, "b"), "new-audio-message")
	req.Len(got, 1)
	decoded, err := base64.StdEncoding.DecodeString(got[0]["audio"].(string))
	req.NoError(err)
	req.Equal(clip, decoded)
	req.Equal(clip, h.store.msgs[0].Audio)

	req.ErrorIs(h.o.SendAudio(ctx, "a", "%%%not-base64", ""), domain.ErrInvalidPayload)
	req.ErrorIs(h.o.SendAudio(ctx, "a", "", ""), domain.ErrInvalidMessage)
}

func TestBackpressure_SlowMemberIsKicked(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness()
	h.user(t, "a", "alice")
	slow := h.user(t, "s", "slow")

	slow.mu.Lock()
	slow.limit = slow.count
	slow.mu.Unlock()

	pos := h.wire.len()
	req.NoError(h.o.SendText(ctx, "a", "ping", ""))
	req.True(slow.isClosed())
	req.Empty(h.roomsOf("s"))
	_, ok := h.o.Registry.GetSession("s")
	req.False(ok)
	left := ofType(h.since(pos, "a"), "left")
	req.Len(left, 1)
	req.Equal("s", left[0]["handle"])

	h.o.OnDisconnect(ctx, "s")
	req.Empty(h.roomsOf("s"))
}

func TestWhoAmI(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.connect(t, "a")

	pos := h.wire.len()
	req.NoError(h.o.WhoAmI("a"))
	evts := h.since(pos, "a")
	req.Len(evts, 1)
	req.Equal("a", evts[0]["handle"])
	req.NotContains(evts[0], "username")

	req.NoError(h.o.Announce(context.Background(), "a", "alice"))
	pos = h.wire.len()
	req.NoError(h.o.WhoAmI("a"))
	evts = h.since(pos, "a")
	req.Equal("alice", evts[0]["username"])
	req.Equal(string(lobby), evts[0]["room"])

	req.ErrorIs(h.o.WhoAmI("ghost"), domain.ErrSessionGone)
}

func TestJoin_KickedJoinerIsNeverAnnounced(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	h.user(t, "b", "bob")

	// room for welcome and known-rooms only
	a := &fakeConn{sid: "a", wire: h.wire, limit: 2}
	h.conns["a"] = a
	h.o.Connect(context.Background(), core.NewMemberSession("a", a))

	pos := h.wire.len()
	req.NoError(h.o.Announce(context.Background(), "a", "alice"))
	req.True(a.isClosed())
	req.Empty(h.roomsOf("a"))

	toB := h.since(pos, "b")
	req.Empty(ofType(toB, "member-arrived"))
	for _, e := range ofType(toB, "left") {
		req.Equal("a", e["handle"])
	}
}

func TestJoin_PeerKickedDuringArrivalIsNotPresented(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	b := h.user(t, "b", "bob")
	h.connect(t, "c")

	b.mu.Lock()
	b.limit = b.count
	b.mu.Unlock()

	pos := h.wire.len()
	req.NoError(h.o.Announce(context.Background(), "c", "carol"))
	req.True(b.isClosed())
	req.Equal([]domain.RoomName{lobby}, h.roomsOf("c"))

	toC := h.since(pos, "c")
	req.Empty(ofType(toC, "peer-present"))
	left := ofType(toC, "left")
	req.Len(left, 1)
	req.Equal("b", left[0]["handle"])
}

func TestKnownRooms_EveryListHasItsOwnSeq(t *testing.T) {
	req := require.New(t)
	h := newHarness()
	seqs := func(sid core.SessionID, pos int) []float64 {
		var out []float64
		for _, e := range ofType(h.since(pos, sid), "known-rooms-list") {
			out = append(out, e["seq"].(float64))
		}
		return out
	}

	h.connect(t, "a")
	first := seqs("a", 0)
	req.Len(first, 1)

	pos := h.wire.len()
	h.o.RefreshPresence(context.Background())
	second := seqs("a", pos)
	req.Len(second, 1)
	req.Greater(second[0], first[0])

	pos = h.wire.len()
	h.connect(t, "b")
	third := seqs("b", pos)
	req.Len(third, 1)
	req.Greater(third[0], second[0])
	req.Empty(seqs("a", pos))

	pos = h.wire.len()
	h.o.RefreshPresence(context.Background())
	fourth := seqs("a", pos)
	req.Len(fourth, 1)
	req.Greater(fourth[0], third[0])
}
