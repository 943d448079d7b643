package core

// SessionID is the opaque, server-assigned handle of one transport session.
type SessionID string

// MemberSession binds a connection handle and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Signal() SignalConnection
}
