package core

// Frame is a raw payload pushed to a panel subscriber.
type Frame []byte

// SubscriberID identifies one panel client connection.
type SubscriberID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
