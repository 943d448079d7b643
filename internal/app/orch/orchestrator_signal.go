package orch

import (
	"encoding/json"

	"github.com/dkeye/roomhub/internal/core"
	"github.com/dkeye/roomhub/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) RelayOffer(from, target core.SessionID, sdp json.RawMessage) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalOffer, SDP: sdp})
}

func (o *Orchestrator) RelayAnswer(from, target core.SessionID, sdp json.RawMessage) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalAnswer, SDP: sdp})
}

func (o *Orchestrator) RelayICECandidate(from, target core.SessionID, candidate json.RawMessage) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalICECandidate, Candidate: candidate})
}

func (o *Orchestrator) RelayHangup(from, target core.SessionID) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalHangup})
}

func (o *Orchestrator) RelayReject(from, target core.SessionID, reason json.RawMessage) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalReject, Reason: reason})
}

func (o *Orchestrator) RelayBusy(from, target core.SessionID) error {
	return o.relay(from, target, core.SignalEvent{Type: core.SignalBusy})
}

// relay forwards evt to target stamped with the sender's handle. Only a missing
// identity is reported back; an unreachable target is an expected race and the
// frame is silently dropped.
func (o *Orchestrator) relay(from, target core.SessionID, evt core.SignalEvent) error {
	if _, ok := o.Registry.UserOf(from); !ok {
		return domain.ErrIdentityRequired
	}
	if target == "" || target == from {
		log.Debug().Str("module", "orch.signal").Str("sid", string(from)).Str("kind", string(evt.Type)).Msg("relay without peer target dropped")
		return nil
	}
	sess, ok := o.Registry.GetSession(target)
	if !ok {
		log.Debug().Str("module", "orch.signal").Str("sid", string(from)).Str("target", string(target)).Str("kind", string(evt.Type)).Msg("relay target unreachable")
		return nil
	}
	evt.Sender = from
	frame, err := core.Encode(evt)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.signal").Msg("encode relay")
		return nil
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "orch.signal").Str("target", string(target)).Str("kind", string(evt.Type)).Msg("relay delivery failed")
		return nil
	}
	log.Debug().Str("module", "orch.signal").Str("sid", string(from)).Str("target", string(target)).Str("kind", string(evt.Type)).Msg("relayed")
	return nil
}
