// Package domain contains call coordination entities and their state rules.
package domain

import "errors"

const MaxUserIDLen = 128

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

// UserID identifies an authenticated user.
type UserID string

// NewUserID validates raw identity subjects coming from token verification.
func NewUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

func (id UserID) String() string { return string(id) }
