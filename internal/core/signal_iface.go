package core

import "errors"

// Frame is one serialized message on a real-time channel.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts a real-time messaging transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full queue returns ErrBackpressure.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
