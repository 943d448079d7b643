package domain

import (
	"fmt"
	"time"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindAudio MessageKind = "audio"
)

// Message is an immutable chat record. Exactly one of Text and Audio is set,
// matching Kind.
type Message struct {
	Username  string
	Room      RoomName
	Kind      MessageKind
	Text      string
	Audio     []byte
	CreatedAt time.Time
}

func NewTextMessage(username string, room RoomName, text string, at time.Time) (Message, error) {
	m := Message{Username: username, Room: room, Kind: KindText, Text: text, CreatedAt: at}
	return m, m.Validate()
}

func NewAudioMessage(username string, room RoomName, audio []byte, at time.Time) (Message, error) {
	m := Message{Username: username, Room: room, Kind: KindAudio, Audio: audio, CreatedAt: at}
	return m, m.Validate()
}

func (m Message) Validate() error {
	if m.Username == "" {
		return fmt.Errorf("%w: missing username", ErrInvalidMessage)
	}
	if m.Room == "" {
		return fmt.Errorf("%w: missing room", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindText:
		if m.Text == "" || len(m.Audio) != 0 {
			return fmt.Errorf("%w: text message needs text and no audio", ErrInvalidMessage)
		}
	case KindAudio:
		if len(m.Audio) == 0 || m.Text != "" {
			return fmt.Errorf("%w: audio message needs audio and no text", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}
