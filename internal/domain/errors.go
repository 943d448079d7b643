package domain

import "errors"

var (
	ErrUsernameEmpty     = errors.New("username empty")
	ErrIdentityRequired  = errors.New("identity required")
	ErrInvalidRoomName   = errors.New("invalid room name")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrNotRoomMember     = errors.New("not a member of room")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrSessionGone       = errors.New("session gone")
)
