package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/roomhub/internal/app"
	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	MaxHistory          = 50
	defaultStoreTimeout = 3 * time.Second
)

// Orchestrator coordinates membership, fan-out, presence and signaling.
//
// Every read-modify-write of the room registry runs under mu, so join, create,
// disconnect cleanup and fan-out are totally ordered. History I/O is always
// issued outside mu. Relays only consult the Registry and never take mu.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	History  core.HistoryStore

	DefaultRoom  domain.RoomName
	HistoryLimit int
	StoreTimeout time.Duration
	Now          func() time.Time

	mu sync.Mutex

	presenceMu   sync.Mutex
	presenceSeq  uint64
	presenceSent uint64
}

// Connect registers a freshly opened transport session and greets it.
func (o *Orchestrator) Connect(ctx context.Context, sess core.MemberSession) {
	o.Registry.BindSignal(sess)
	o.sendTo(sess, core.WelcomeEvent{Type: core.EvtWelcome, Handle: sess.ID()})
	o.SendKnownRooms(ctx, sess.ID())
}

// OnDisconnect tears down everything the handle owned. It is safe to call more
// than once; only the first call has an effect.
func (o *Orchestrator) OnDisconnect(ctx context.Context, sid core.SessionID) {
	o.mu.Lock()
	if _, ok := o.Registry.GetSession(sid); !ok {
		o.mu.Unlock()
		return
	}
	o.leaveLocked(sid)
	o.Registry.Unbind(sid)
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
	o.RefreshPresence(ctx)
}

func (o *Orchestrator) historyLimit() int {
	if o.HistoryLimit <= 0 || o.HistoryLimit > MaxHistory {
		return MaxHistory
	}
	return o.HistoryLimit
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// sendTo delivers one event to one session. Failures are logged and dropped.
func (o *Orchestrator) sendTo(sess core.MemberSession, v any) bool {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return false
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("send failed")
		return false
	}
	return true
}

// sendLocked is sendTo for callers holding mu: a rejected frame goes through the policy.
func (o *Orchestrator) sendLocked(sess core.MemberSession, room domain.RoomName, v any) {
	if !o.sendTo(sess, v) {
		o.applyPolicyLocked(room, []core.MemberSession{sess})
	}
}

// fanoutLocked delivers v to every current member of room except `except`.
func (o *Orchestrator) fanoutLocked(room domain.RoomName, except core.SessionID, v any) {
	rs, ok := o.Rooms.Get(room)
	if !ok {
		return
	}
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return
	}
	res := rs.Broadcast(except, frame)
	o.applyPolicyLocked(room, res.Dropped)
}

func (o *Orchestrator) applyPolicyLocked(room domain.RoomName, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.kickLocked(slow)
		case app.NoAction:
		}
	}
}

// kickLocked removes a member that can no longer receive frames so no later
// fan-out targets it, then closes its transport. The read side of the
// transport finishes the cleanup through OnDisconnect.
func (o *Orchestrator) kickLocked(sess core.MemberSession) {
	sid := sess.ID()
	if _, ok := o.Registry.GetSession(sid); !ok {
		return
	}
	log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("kicking slow member")
	o.leaveLocked(sid)
	o.Registry.Unbind(sid)
	sess.Signal().Close()
}

// WhoAmI reports the handle's identity and current room back to it.
func (o *Orchestrator) WhoAmI(sid core.SessionID) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return domain.ErrSessionGone
	}
	evt := core.WhoAmIEvent{Type: core.EvtWhoAmI, Handle: sid}
	if user, ok := o.Registry.UserOf(sid); ok {
		evt.Username = user.Username
	}
	if room, _, ok := o.Registry.RoomOf(sid); ok {
		evt.Room = room
	}
	o.sendTo(sess, evt)
	return nil
}
