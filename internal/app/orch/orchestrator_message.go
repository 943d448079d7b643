package orch

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// SendText records a text message and fans it out to the room, sender included.
func (o *Orchestrator) SendText(ctx context.Context, sid core.SessionID, text, room string) error {
	user, name, err := o.senderRoom(sid, room)
	if err != nil {
		return err
	}
	msg, err := domain.NewTextMessage(user.Username, name, text, o.now())
	if err != nil {
		return err
	}
	o.persist(ctx, msg)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.fanoutLocked(name, "", core.TextMessageEvent{
		Type:     core.EvtNewTextMessage,
		Username: msg.Username,
		Text:     msg.Text,
		Room:     name,
	})
	return nil
}

// SendAudio decodes a base64 clip, records it and fans it out re-encoded from
// the decoded bytes, so every receiver sees exactly what was stored.
func (o *Orchestrator) SendAudio(ctx context.Context, sid core.SessionID, payload, room string) error {
	user, name, err := o.senderRoom(sid, room)
	if err != nil {
		return err
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: audio is not base64: %v", domain.ErrInvalidPayload, err)
	}
	msg, err := domain.NewAudioMessage(user.Username, name, audio, o.now())
	if err != nil {
		return err
	}
	o.persist(ctx, msg)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.fanoutLocked(name, "", core.AudioMessageEvent{
		Type:     core.EvtNewAudioMessage,
		Username: msg.Username,
		Audio:    base64.StdEncoding.EncodeToString(msg.Audio),
		Room:     name,
	})
	return nil
}

// senderRoom resolves the target room of a message: the sender's current room
// when raw is empty, otherwise raw, which must be that same room.
func (o *Orchestrator) senderRoom(sid core.SessionID, raw string) (*domain.User, domain.RoomName, error) {
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return nil, "", domain.ErrIdentityRequired
	}
	current, _, inRoom := o.Registry.RoomOf(sid)
	name := domain.NormalizeRoomName(raw)
	if name == "" {
		name = current
	}
	if !inRoom || name != current {
		return nil, "", fmt.Errorf("%w: %q", domain.ErrNotRoomMember, name)
	}
	return user, name, nil
}

// persist never fails the caller: a storage outage leaves delivery memory-only.
func (o *Orchestrator) persist(ctx context.Context, msg domain.Message) {
	if o.History == nil {
		return
	}
	ctx, cancel := o.storeCtx(ctx)
	defer cancel()
	if err := o.History.Append(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(msg.Room)).Str("kind", string(msg.Kind)).Msg("persist message failed")
	}
}
