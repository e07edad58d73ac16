package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/callbridge/internal/domain"
)

type sessionPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}

func parseSessionPayload(data []byte) (domain.SessionID, bool) {
	var p sessionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return "", false
	}
	return p.SessionID, true
}

func (r *Relay) handleJoin(ctx context.Context, ch *Channel, data []byte) {
	sid, ok := parseSessionPayload(data)
	if !ok {
		r.sendError(ch, codeBadPayload, "")
		return
	}
	uid := r.userOf(ch)

	_, replaced, err := r.Store.AddParticipant(ctx, sid, uid, ch.ID)
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", sid.String()).Str("user_id", uid.String()).Msg("join failed")
		r.sendError(ch, storeErrorCode(err), sid)
		return
	}

	r.mu.Lock()
	var evicted *Channel
	if replaced != "" && replaced != ch.ID {
		if old, ok := r.bySession[sid][replaced]; ok {
			r.unbindLocked(sid, old)
			evicted = old
		}
	}
	r.bindLocked(sid, ch)
	r.mu.Unlock()

	// A delete that released the session between the store update and the
	// bind above would otherwise leave ch bound to nothing.
	if _, err := r.Store.GetSession(ctx, sid); errors.Is(err, domain.ErrSessionNotFound) {
		r.mu.Lock()
		r.unbindLocked(sid, ch)
		r.mu.Unlock()
		r.log.Warn().Str("session_id", sid.String()).Str("user_id", uid.String()).Msg("session ended during join")
		r.sendError(ch, codeSessionNotFound, sid)
		return
	}

	if evicted != nil {
		r.log.Info().Str("session_id", sid.String()).Str("user_id", uid.String()).Str("channel_id", evicted.ID.String()).Msg("channel replaced by rejoin")
		r.sendError(evicted, codeReplaced, sid)
	}
	r.log.Info().Str("session_id", sid.String()).Str("user_id", uid.String()).Str("channel_id", ch.ID.String()).Msg("join")

	r.broadcast(sid, ch.ID, participantMsg{
		Type:      msgParticipantJoined,
		UserID:    uid,
		SessionID: sid,
		Timestamp: r.stamp(),
	})
}

func (r *Relay) handleLeave(ctx context.Context, ch *Channel, data []byte) {
	sid, ok := parseSessionPayload(data)
	if !ok {
		r.sendError(ch, codeBadPayload, "")
		return
	}

	r.mu.Lock()
	_, bound := ch.sessions[sid]
	uid := ch.user
	if bound {
		r.unbindLocked(sid, ch)
	}
	r.mu.Unlock()
	if !bound {
		r.sendError(ch, codeNotParticipant, sid)
		return
	}

	if err := r.leave(ctx, sid, uid, ch, reasonExplicit); err != nil {
		r.sendError(ch, storeErrorCode(err), sid)
	}
}

// leave removes the membership ch holds in sid and tells the remaining
// channels. ch must already be unbound.
func (r *Relay) leave(ctx context.Context, sid domain.SessionID, uid domain.UserID, ch *Channel, reason string) error {
	_, deleted, err := r.Store.RemoveChannel(ctx, sid, uid, ch.ID)
	if err != nil {
		r.log.Debug().Err(err).Str("session_id", sid.String()).Str("user_id", uid.String()).Str("reason", reason).Msg("leave without membership")
		return err
	}
	r.log.Info().Str("session_id", sid.String()).Str("user_id", uid.String()).Str("reason", reason).Bool("session_deleted", deleted).Msg("leave")
	if deleted {
		r.ReleaseSession(sid)
		return nil
	}
	r.broadcast(sid, ch.ID, participantMsg{
		Type:      msgParticipantLeft,
		UserID:    uid,
		SessionID: sid,
		Timestamp: r.stamp(),
		Reason:    reason,
	})
	return nil
}

func (r *Relay) broadcast(sid domain.SessionID, except domain.ChannelID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("broadcast marshal")
		return
	}
	r.fanout(sid, r.peersOf(sid, except), b, "notice")
}

func storeErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrInvalidTransition):
		return codeSessionNotFound
	case errors.Is(err, domain.ErrNotParticipant):
		return codeNotParticipant
	default:
		return codeInternal
	}
}
