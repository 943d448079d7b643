package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Announce binds username to the handle (last writer wins). A handle that is
// in no room is placed into the default room.
func (o *Orchestrator) Announce(ctx context.Context, sid core.SessionID, username string) error {
	user, err := domain.NewUser(username)
	if err != nil {
		return err
	}

	var history []domain.Message
	_, _, inRoom := o.Registry.RoomOf(sid)
	if !inRoom {
		history = o.loadHistory(ctx, o.DefaultRoom)
	}

	o.mu.Lock()
	if !o.Registry.Announce(sid, user) {
		o.mu.Unlock()
		return domain.ErrSessionGone
	}
	joined := false
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		sess, _ := o.Registry.GetSession(sid)
		o.joinLocked(sess, user, o.DefaultRoom, history)
		joined = true
	}
	o.mu.Unlock()

	if joined {
		o.RefreshPresence(ctx)
	}
	return nil
}

// Join moves the handle into the named room, leaving whatever room it was in.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, raw string) (domain.RoomName, error) {
	if _, ok := o.Registry.UserOf(sid); !ok {
		return "", domain.ErrIdentityRequired
	}
	name := domain.NormalizeRoomName(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", domain.ErrInvalidRoomName)
	}
	if !o.roomKnown(ctx, name) {
		return "", fmt.Errorf("%w: %q", domain.ErrRoomNotFound, name)
	}
	history := o.loadHistory(ctx, name)

	o.mu.Lock()
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		o.mu.Unlock()
		return "", domain.ErrSessionGone
	}
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		o.mu.Unlock()
		return "", domain.ErrIdentityRequired
	}
	o.joinLocked(sess, user, name, history)
	o.mu.Unlock()

	o.RefreshPresence(ctx)
	return name, nil
}

// Create registers an empty room. The creator is not joined.
func (o *Orchestrator) Create(ctx context.Context, sid core.SessionID, raw string) (domain.RoomName, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return "", domain.ErrSessionGone
	}
	if _, ok := o.Registry.UserOf(sid); !ok {
		return "", domain.ErrIdentityRequired
	}
	name := domain.NormalizeRoomName(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", domain.ErrInvalidRoomName)
	}
	if name == o.DefaultRoom {
		return "", fmt.Errorf("%w: %q is reserved", domain.ErrInvalidRoomName, name)
	}
	if o.Rooms.Exists(name) || o.historyHasRoom(ctx, name) {
		return "", fmt.Errorf("%w: %q", domain.ErrRoomAlreadyExists, name)
	}

	o.mu.Lock()
	if !o.Rooms.Create(name) {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %q", domain.ErrRoomAlreadyExists, name)
	}
	o.sendLocked(sess, "", core.RoomEvent{Type: core.EvtRoomCreated, Room: name})
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(name)).Msg("room created")
	o.RefreshPresence(ctx)
	return name, nil
}

// joinLocked performs the full transition. Order on the wire:
// left (old room), room-joined (self), member-arrived (others),
// peer-present per pre-existing member (self), history (self).
func (o *Orchestrator) joinLocked(sess core.MemberSession, user *domain.User, name domain.RoomName, history []domain.Message) {
	sid := sess.ID()
	o.leaveLocked(sid)

	room := o.Rooms.GetOrCreate(name)
	peers := room.Members()
	room.AddMember(sess)
	o.Registry.UpdateRoom(sid, name)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", user.Username).Str("room", string(name)).Msg("joined room")

	// A failed send kicks the joiner; nothing may announce it after its left.
	o.sendLocked(sess, name, core.RoomEvent{Type: core.EvtRoomJoined, Room: name})
	if !room.Has(sid) {
		return
	}
	o.fanoutLocked(name, sid, core.MemberArrivedEvent{Type: core.EvtMemberArrived, Username: user.Username, Handle: sid})
	for _, peer := range peers {
		if !room.Has(sid) {
			return
		}
		// peers kicked during the fan-out above already had their left sent
		if !room.Has(peer) {
			continue
		}
		o.sendLocked(sess, name, core.HandleEvent{Type: core.EvtPeerPresent, Handle: peer})
	}

	entries := make([]core.HistoryEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, core.ToHistoryEntry(m))
	}
	if room.Has(sid) {
		o.sendLocked(sess, name, core.HistoryEvent{Type: core.EvtHistory, Room: name, Messages: entries})
	}
}

// leaveLocked drops the handle from its room and notifies the members left behind.
func (o *Orchestrator) leaveLocked(sid core.SessionID) {
	room, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Registry.RemoveRoom(sid)
	if rs, ok := o.Rooms.Get(room); ok {
		rs.RemoveMember(sid)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Msg("left room")
	o.fanoutLocked(room, sid, core.HandleEvent{Type: core.EvtLeft, Handle: sid})
}

func (o *Orchestrator) roomKnown(ctx context.Context, name domain.RoomName) bool {
	return name == o.DefaultRoom || o.Rooms.Exists(name) || o.historyHasRoom(ctx, name)
}

func (o *Orchestrator) historyHasRoom(ctx context.Context, name domain.RoomName) bool {
	if o.History == nil {
		return false
	}
	ctx, cancel := o.storeCtx(ctx)
	defer cancel()
	ok, err := o.History.HasRoom(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(name)).Msg("history lookup failed")
		return false
	}
	return ok
}

func (o *Orchestrator) loadHistory(ctx context.Context, name domain.RoomName) []domain.Message {
	if o.History == nil {
		return nil
	}
	ctx, cancel := o.storeCtx(ctx)
	defer cancel()
	msgs, err := o.History.FindByRoom(ctx, name, o.historyLimit())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(name)).Msg("history query failed")
		return nil
	}
	if len(msgs) > o.historyLimit() {
		msgs = msgs[len(msgs)-o.historyLimit():]
	}
	return msgs
}
