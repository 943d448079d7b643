package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(ctl.writeWait()))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeWait())); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.writeWait())); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns the handle is
// disconnected from the orchestrator before anything else happens.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		cancel()
		ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), sid)
		c.Close()
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
	}()

	if ctl.opts.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		})
	}
	limiter := NewEventLimiter(sid, ctl.opts.RateLimit, ctl.opts.RateBurst)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if ctl.opts.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		}
		if !limiter.Allow() {
			continue
		}
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) writeWait() time.Duration {
	if ctl.opts.WriteWait > 0 {
		return ctl.opts.WriteWait
	}
	return 10 * time.Second
}

// inbound is the union of every client event; each handler reads its own fields.
type inbound struct {
	Type      string          `json:"type"`
	Username  string          `json:"username"`
	Room      string          `json:"room"`
	Text      string          `json:"text"`
	Audio     string          `json:"audio"`
	Target    core.SessionID  `json:"target"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
	Reason    json.RawMessage `json:"reason"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.reportError(sid, c, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}

	var err error
	switch in.Type {
	case "announce-identity":
		err = ctl.Orch.Announce(ctx, sid, in.Username)
	case "join-room":
		_, err = ctl.Orch.Join(ctx, sid, in.Room)
	case "create-room":
		_, err = ctl.Orch.Create(ctx, sid, in.Room)
	case "request-known-rooms":
		ctl.Orch.RefreshPresence(ctx)
	case "send-text":
		err = ctl.Orch.SendText(ctx, sid, in.Text, in.Room)
	case "send-audio":
		err = ctl.Orch.SendAudio(ctx, sid, in.Audio, in.Room)
	case "whoami":
		err = ctl.Orch.WhoAmI(sid)
	case "ping":
		ctl.handlePing(c)
	case string(core.SignalOffer):
		err = ctl.Orch.RelayOffer(sid, in.Target, in.SDP)
	case string(core.SignalAnswer):
		err = ctl.Orch.RelayAnswer(sid, in.Target, in.SDP)
	case string(core.SignalICECandidate):
		err = ctl.Orch.RelayICECandidate(sid, in.Target, in.Candidate)
	case string(core.SignalHangup):
		err = ctl.Orch.RelayHangup(sid, in.Target)
	case string(core.SignalReject):
		err = ctl.Orch.RelayReject(sid, in.Target, in.Reason)
	case string(core.SignalBusy):
		err = ctl.Orch.RelayBusy(sid, in.Target)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", in.Type).Msg("unknown signal")
		return
	}
	if err != nil {
		ctl.reportError(sid, c, err)
	}
}

// errorEventFor maps an orchestrator error to the event the client expects.
func errorEventFor(err error) (core.EventType, bool) {
	switch {
	case errors.Is(err, domain.ErrSessionGone):
		return "", false
	case errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrIdentityRequired):
		return core.EvtIdentityError, true
	case errors.Is(err, domain.ErrInvalidRoomName),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRoomAlreadyExists):
		return core.EvtRoomError, true
	default:
		return core.EvtMessageError, true
	}
}

func (ctl *SignalWSController) reportError(sid core.SessionID, c *WsSignalConn, err error) {
	typ, ok := errorEventFor(err)
	if !ok {
		return
	}
	log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", string(typ)).Msg("request rejected")
	ctl.sendJSON(c, core.ErrorEvent{Type: typ, Error: err.Error()})
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, core.PongEvent{Type: core.EvtPong})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
