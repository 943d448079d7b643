package core

// Frame is a raw encoded payload ready for the wire.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks. It fails when the connection is closed or its
	// outbound buffer is full.
	TrySend(Frame) error
	Close()
}
