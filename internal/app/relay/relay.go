// Package relay authenticates real-time channels and forwards negotiation
// messages between the participants of one session.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

// Sessions is the slice of the session store the relay mutates through.
type Sessions interface {
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	AddParticipant(ctx context.Context, id domain.SessionID, uid domain.UserID, ch domain.ChannelID) (*domain.Session, domain.ChannelID, error)
	RemoveChannel(ctx context.Context, id domain.SessionID, uid domain.UserID, ch domain.ChannelID) (*domain.Session, bool, error)
}

// Channel is one connected transport as the relay sees it. Identity and
// bindings are guarded by the relay mutex.
type Channel struct {
	ID   domain.ChannelID
	conn core.SignalConnection

	user     domain.UserID
	sessions map[domain.SessionID]struct{}
}

func (c *Channel) User() domain.UserID { return c.user }

type Relay struct {
	Store    Sessions
	Verifier core.IdentityVerifier
	Policy   app.Policy

	mu        sync.RWMutex
	channels  map[domain.ChannelID]*Channel
	bySession map[domain.SessionID]map[domain.ChannelID]*Channel

	now func() time.Time
	log zerolog.Logger
}

func New(store Sessions, verifier core.IdentityVerifier, policy app.Policy) *Relay {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Relay{
		Store:     store,
		Verifier:  verifier,
		Policy:    policy,
		channels:  make(map[domain.ChannelID]*Channel),
		bySession: make(map[domain.SessionID]map[domain.ChannelID]*Channel),
		now:       time.Now,
		log:       log.With().Str("module", "relay").Logger(),
	}
}

// Attach registers a freshly connected transport. The channel starts
// unauthenticated and unbound.
func (r *Relay) Attach(conn core.SignalConnection) *Channel {
	ch := &Channel{
		ID:       domain.NewChannelID(),
		conn:     conn,
		sessions: make(map[domain.SessionID]struct{}),
	}
	r.mu.Lock()
	r.channels[ch.ID] = ch
	r.mu.Unlock()
	metrics.ActiveChannels.Inc()
	r.log.Debug().Str("channel_id", ch.ID.String()).Msg("channel attached")
	return ch
}

// Handle processes one inbound frame. Callers must not call Handle
// concurrently for the same channel; that is what keeps forwards FIFO.
func (r *Relay) Handle(ctx context.Context, ch *Channel, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn().Err(err).Str("channel_id", ch.ID.String()).Msg("bad json")
		r.sendError(ch, codeBadPayload, "")
		return
	}

	switch env.Type {
	case msgPing:
		r.handlePing(ch)
		return
	case msgAuthenticate:
		r.handleAuthenticate(ctx, ch, data)
		return
	}

	if r.userOf(ch) == "" {
		r.log.Warn().Str("channel_id", ch.ID.String()).Str("type", env.Type).Msg("rejected, channel not authenticated")
		r.sendError(ch, codeUnauthenticated, "")
		return
	}

	switch env.Type {
	case msgJoin:
		r.handleJoin(ctx, ch, data)
	case msgLeave:
		r.handleLeave(ctx, ch, data)
	case msgOffer, msgAnswer, msgCandidate:
		r.handleNegotiation(ctx, ch, env.Type, data)
	default:
		r.log.Warn().Str("channel_id", ch.ID.String()).Str("type", env.Type).Msg("unknown signal")
		r.sendError(ch, codeBadPayload, "")
	}
}

// Detach is the transport disconnect: every membership still held by ch is
// removed with reason disconnect.
func (r *Relay) Detach(ctx context.Context, ch *Channel) {
	r.mu.Lock()
	if _, ok := r.channels[ch.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.channels, ch.ID)
	uid := ch.user
	bound := make([]domain.SessionID, 0, len(ch.sessions))
	for sid := range ch.sessions {
		bound = append(bound, sid)
		r.unbindLocked(sid, ch)
	}
	r.mu.Unlock()
	metrics.ActiveChannels.Dec()

	for _, sid := range bound {
		r.leave(ctx, sid, uid, ch, reasonDisconnect)
	}
	r.log.Debug().Str("channel_id", ch.ID.String()).Str("user_id", uid.String()).Int("sessions", len(bound)).Msg("channel detached")
}

// ReleaseSession unbinds every channel from a session that ended outside
// the relay, such as by expiry or an explicit delete.
func (r *Relay) ReleaseSession(id domain.SessionID) {
	r.mu.Lock()
	peers := r.bySession[id]
	for _, ch := range peers {
		delete(ch.sessions, id)
	}
	delete(r.bySession, id)
	r.mu.Unlock()

	if len(peers) > 0 {
		r.log.Info().Str("session_id", id.String()).Int("channels", len(peers)).Msg("session released")
	}
}

// Bound returns the channels currently bound to a session.
func (r *Relay) Bound(id domain.SessionID) []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelID, 0, len(r.bySession[id]))
	for cid := range r.bySession[id] {
		out = append(out, cid)
	}
	return out
}

func (r *Relay) userOf(ch *Channel) domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ch.user
}

func (r *Relay) bindLocked(id domain.SessionID, ch *Channel) {
	peers, ok := r.bySession[id]
	if !ok {
		peers = make(map[domain.ChannelID]*Channel)
		r.bySession[id] = peers
	}
	peers[ch.ID] = ch
	ch.sessions[id] = struct{}{}
}

func (r *Relay) unbindLocked(id domain.SessionID, ch *Channel) {
	delete(ch.sessions, id)
	if peers, ok := r.bySession[id]; ok {
		delete(peers, ch.ID)
		if len(peers) == 0 {
			delete(r.bySession, id)
		}
	}
}

// peersOf snapshots the channels bound to id except the one given.
func (r *Relay) peersOf(id domain.SessionID, except domain.ChannelID) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.bySession[id]))
	for cid, ch := range r.bySession[id] {
		if cid != except {
			out = append(out, ch)
		}
	}
	return out
}
