package core

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/dkeye/roomhub/internal/domain"
)

// EventType tags every server to client frame.
type EventType string

const (
	EvtWelcome         EventType = "welcome"
	EvtKnownRooms      EventType = "known-rooms-list"
	EvtRoomJoined      EventType = "room-joined"
	EvtRoomCreated     EventType = "room-created"
	EvtRoomError       EventType = "room-error"
	EvtIdentityError   EventType = "identity-error"
	EvtMessageError    EventType = "message-error"
	EvtPeerPresent     EventType = "peer-present"
	EvtMemberArrived   EventType = "member-arrived"
	EvtLeft            EventType = "left"
	EvtHistory         EventType = "history"
	EvtNewTextMessage  EventType = "new-text-message"
	EvtNewAudioMessage EventType = "new-audio-message"
	EvtWhoAmI          EventType = "whoami"
	EvtPong            EventType = "pong"
)

// SignalKind names the point-to-point payloads the relay forwards.
// The same string is used inbound and outbound.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalHangup       SignalKind = "hangup"
	SignalReject       SignalKind = "reject"
	SignalBusy         SignalKind = "busy"
)

type WelcomeEvent struct {
	Type   EventType `json:"type"`
	Handle SessionID `json:"handle"`
}

type KnownRoomsEvent struct {
	Type  EventType         `json:"type"`
	Rooms []domain.RoomName `json:"rooms"`
	Seq   uint64            `json:"seq"`
}

type RoomEvent struct {
	Type EventType       `json:"type"`
	Room domain.RoomName `json:"room"`
}

type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

type HandleEvent struct {
	Type   EventType `json:"type"`
	Handle SessionID `json:"handle"`
}

type MemberArrivedEvent struct {
	Type     EventType `json:"type"`
	Username string    `json:"username"`
	Handle   SessionID `json:"handle"`
}

// HistoryEntry is the wire view of a stored message. Audio is base64 (std, padded).
type HistoryEntry struct {
	Username  string             `json:"username"`
	Room      domain.RoomName    `json:"room"`
	Kind      domain.MessageKind `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Audio     string             `json:"audio,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type HistoryEvent struct {
	Type     EventType       `json:"type"`
	Room     domain.RoomName `json:"room"`
	Messages []HistoryEntry  `json:"messages"`
}

type TextMessageEvent struct {
	Type     EventType       `json:"type"`
	Username string          `json:"username"`
	Text     string          `json:"text"`
	Room     domain.RoomName `json:"room"`
}

type AudioMessageEvent struct {
	Type     EventType       `json:"type"`
	Username string          `json:"username"`
	Audio    string          `json:"audio"`
	Room     domain.RoomName `json:"room"`
}

// SignalEvent carries a relayed payload. Only the field matching Type is set;
// the payload is forwarded without being inspected.
type SignalEvent struct {
	Type      SignalKind      `json:"type"`
	Sender    SessionID       `json:"sender"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    json.RawMessage `json:"reason,omitempty"`
}

type WhoAmIEvent struct {
	Type     EventType       `json:"type"`
	Handle   SessionID       `json:"handle"`
	Username string          `json:"username,omitempty"`
	Room     domain.RoomName `json:"room,omitempty"`
}

type PongEvent struct {
	Type EventType `json:"type"`
}

func Encode(v any) (Frame, error) {
	return json.Marshal(v)
}

func ToHistoryEntry(m domain.Message) HistoryEntry {
	e := HistoryEntry{
		Username:  m.Username,
		Room:      m.Room,
		Kind:      m.Kind,
		Text:      m.Text,
		Timestamp: m.CreatedAt,
	}
	if m.Kind == domain.KindAudio {
		e.Audio = base64.StdEncoding.EncodeToString(m.Audio)
	}
	return e
}
