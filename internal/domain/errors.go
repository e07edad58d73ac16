package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotParticipant       = errors.New("not a participant of session")
	ErrInvalidTransition    = errors.New("invalid session state transition")
)
