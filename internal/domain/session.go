package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (id SessionID) String() string { return string(id) }

// ChannelID identifies one real-time connection.
type ChannelID string

func NewChannelID() ChannelID {
	return ChannelID(uuid.NewString())
}

func (id ChannelID) String() string { return string(id) }

type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindVoice || k == KindVideo
}

type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// ended is terminal; active may stay active while members come and go.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateCreated:
		return next == StateActive || next == StateEnded
	case StateActive:
		return next == StateActive || next == StateEnded
	default:
		return false
	}
}

type ParticipantStatus string

const ParticipantConnected ParticipantStatus = "connected"

// Participant is one user's live binding to a session.
type Participant struct {
	UserID    UserID            `json:"userId"`
	ChannelID ChannelID         `json:"channelId"`
	JoinedAt  time.Time         `json:"joinedAt"`
	Status    ParticipantStatus `json:"status"`
}

// Session is the coordination record for one call. This is also the
// serialized shape mirrored to the cache under session:<id>.
type Session struct {
	ID                SessionID          `json:"id"`
	OwnerID           UserID             `json:"ownerId"`
	Kind              Kind               `json:"kind"`
	State             State              `json:"state"`
	Participants      []Participant      `json:"participants"`
	NegotiationConfig []webrtc.ICEServer `json:"negotiationConfig"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func NewSession(owner UserID, kind Kind, ice []webrtc.ICEServer, now time.Time) *Session {
	return &Session{
		ID:                NewSessionID(),
		OwnerID:           owner,
		Kind:              kind,
		State:             StateCreated,
		Participants:      []Participant{},
		NegotiationConfig: slices.Clone(ice),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = slices.Clone(s.Participants)
	if out.Participants == nil {
		out.Participants = []Participant{}
	}
	out.NegotiationConfig = make([]webrtc.ICEServer, len(s.NegotiationConfig))
	for i, srv := range s.NegotiationConfig {
		srv.URLs = slices.Clone(srv.URLs)
		out.NegotiationConfig[i] = srv
	}
	return &out
}

// Participant returns the membership entry for uid.
func (s *Session) Participant(uid UserID) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == uid {
			return p, true
		}
	}
	return Participant{}, false
}

// HasChannel reports whether ch is the live channel of some participant.
func (s *Session) HasChannel(uid UserID, ch ChannelID) bool {
	p, ok := s.Participant(uid)
	return ok && p.ChannelID == ch
}

// Upsert applies a join. A user already present keeps its position in
// join order and gets the new channel; the previous channel is returned.
func (s *Session) Upsert(p Participant) (replaced ChannelID, err error) {
	if !s.State.CanTransitionTo(StateActive) {
		return "", ErrInvalidTransition
	}
	idx := slices.IndexFunc(s.Participants, func(e Participant) bool { return e.UserID == p.UserID })
	if idx >= 0 {
		replaced = s.Participants[idx].ChannelID
		s.Participants[idx] = p
	} else {
		s.Participants = append(s.Participants, p)
	}
	s.State = StateActive
	s.UpdatedAt = p.JoinedAt
	return replaced, nil
}

// Remove drops uid from the participant set. It reports whether an entry
// was removed and, when the set drained an active session, ends it.
func (s *Session) Remove(uid UserID, now time.Time) (removed bool) {
	before := len(s.Participants)
	s.Participants = slices.DeleteFunc(s.Participants, func(e Participant) bool { return e.UserID == uid })
	removed = len(s.Participants) != before
	if removed {
		s.UpdatedAt = now
	}
	if len(s.Participants) == 0 && s.State == StateActive {
		s.State = StateEnded
	}
	return removed
}

// End moves the session to its terminal state and clears membership.
func (s *Session) End(now time.Time) {
	s.State = StateEnded
	s.Participants = []Participant{}
	s.UpdatedAt = now
}

// Expired reports whether the session outlived ttl and has been idle for
// at least idle.
func (s *Session) Expired(now time.Time, ttl, idle time.Duration) bool {
	return now.Sub(s.CreatedAt) >= ttl && now.Sub(s.UpdatedAt) >= idle
}
