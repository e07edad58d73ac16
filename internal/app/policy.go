package app

import "github.com/dkeye/callbridge/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickChannel
)

func (a BackpressureAction) String() string {
	switch a {
	case KickChannel:
		return "kick"
	default:
		return "drop"
	}
}

// Policy decides what happens to a channel whose send queue is full.
type Policy interface {
	OnBackpressure(session domain.SessionID, channel domain.ChannelID) BackpressureAction
}

// SimplePolicy drops the frame. Negotiation messages are time-sensitive and
// a stale one is useless; a slow channel only loses what it could not take.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(domain.SessionID, domain.ChannelID) BackpressureAction {
	return DropFrame
}

// StrictPolicy disconnects channels that fall behind.
type StrictPolicy struct{}

func (StrictPolicy) OnBackpressure(domain.SessionID, domain.ChannelID) BackpressureAction {
	return KickChannel
}
