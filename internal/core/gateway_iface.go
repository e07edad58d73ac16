package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGatewayUnavailable marks transport-level failures talking to the provider.
	ErrGatewayUnavailable = errors.New("telephony gateway unavailable")
	// ErrLegNotFound is returned by EndCall for unknown or already finished calls.
	ErrLegNotFound = errors.New("call leg not found")
)

// ConferenceRequest asks the provider for a named multi-party room.
// Creating the same name twice yields the same conference.
type ConferenceRequest struct {
	Name         string
	StartOnEnter bool
	EndOnExit    bool
	Record       bool
}

// CallRequest places one outbound call that executes Instructions on answer.
type CallRequest struct {
	To             string
	From           string
	Instructions   string
	StatusCallback string
	RingTimeout    time.Duration
}

// TelephonyGateway is the provider surface used by the conference bridge.
type TelephonyGateway interface {
	CreateConference(ctx context.Context, req ConferenceRequest) (conferenceID string, err error)
	CreateCall(ctx context.Context, req CallRequest) (legID string, err error)
	EndCall(ctx context.Context, legID string) error
}
