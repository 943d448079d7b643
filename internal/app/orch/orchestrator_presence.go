package orch

import (
	"context"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// KnownRooms is the union of live rooms and rooms with history, default room
// first, the rest sorted, no duplicates. A history outage degrades to the
// live rooms only.
func (o *Orchestrator) KnownRooms(ctx context.Context) []domain.RoomName {
	names := append([]domain.RoomName{o.DefaultRoom}, o.Rooms.Names()...)
	if o.History != nil {
		sctx, cancel := o.storeCtx(ctx)
		stored, err := o.History.DistinctRooms(sctx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("distinct rooms query failed")
		}
		names = append(names, stored...)
	}
	names = lo.Uniq(lo.Filter(names, func(n domain.RoomName, _ int) bool { return n != "" }))
	domain.SortRooms(names, o.DefaultRoom)
	return names
}

// RefreshPresence recomputes the known rooms and pushes them to every
// connected client. A recomputation that finishes after a newer one was
// already delivered is discarded.
func (o *Orchestrator) RefreshPresence(ctx context.Context) {
	o.presenceMu.Lock()
	o.presenceSeq++
	seq := o.presenceSeq
	o.presenceMu.Unlock()

	rooms := o.KnownRooms(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.presenceMu.Lock()
	if seq < o.presenceSent {
		o.presenceMu.Unlock()
		log.Debug().Str("module", "orch").Uint64("seq", seq).Msg("stale presence dropped")
		return
	}
	o.presenceSent = seq
	o.presenceMu.Unlock()

	frame, err := core.Encode(core.KnownRoomsEvent{Type: core.EvtKnownRooms, Rooms: rooms, Seq: seq})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode presence")
		return
	}
	var dropped []core.MemberSession
	for _, sess := range o.Registry.Sessions() {
		if err := sess.Signal().TrySend(frame); err != nil {
			dropped = append(dropped, sess)
		}
	}
	o.applyPolicyLocked("", dropped)
	log.Debug().Str("module", "orch").Uint64("seq", seq).Int("rooms", len(rooms)).Msg("presence broadcast")
}

// SendKnownRooms answers a single client without touching anybody else. The
// list gets its own sequence number; it never holds back a broadcast.
func (o *Orchestrator) SendKnownRooms(ctx context.Context, sid core.SessionID) {
	o.presenceMu.Lock()
	o.presenceSeq++
	seq := o.presenceSeq
	o.presenceMu.Unlock()

	rooms := o.KnownRooms(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	o.sendLocked(sess, "", core.KnownRoomsEvent{Type: core.EvtKnownRooms, Rooms: rooms, Seq: seq})
}
