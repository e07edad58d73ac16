package relay

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/callbridge/internal/adapters/rtc"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

type negotiationPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	SDP       json.RawMessage  `json:"sdp"`
	Candidate json.RawMessage  `json:"candidate"`
}

// handleNegotiation forwards an offer, answer or candidate to every other
// channel bound to the session. Nothing is queued for absent peers.
func (r *Relay) handleNegotiation(ctx context.Context, ch *Channel, kind string, data []byte) {
	var p negotiationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		r.sendError(ch, codeBadPayload, "")
		return
	}
	if err := validateNegotiation(kind, p); err != nil {
		r.log.Warn().Err(err).Str("channel_id", ch.ID.String()).Str("type", kind).Msg("bad negotiation payload")
		r.sendError(ch, codeBadPayload, p.SessionID)
		return
	}

	uid := r.userOf(ch)
	sess, err := r.Store.GetSession(ctx, p.SessionID)
	if err != nil {
		r.sendError(ch, storeErrorCode(err), p.SessionID)
		return
	}
	if !sess.HasChannel(uid, ch.ID) {
		r.log.Warn().Str("session_id", p.SessionID.String()).Str("user_id", uid.String()).Str("channel_id", ch.ID.String()).Str("type", kind).Msg("sender is not a participant")
		r.sendError(ch, codeNotParticipant, p.SessionID)
		return
	}

	out := forwardMsg{
		Type:      kind,
		SessionID: p.SessionID,
		From:      uid,
		Timestamp: r.stamp(),
	}
	if kind == msgCandidate {
		out.Candidate = p.Candidate
	} else {
		out.SDP = p.SDP
	}
	b, err := json.Marshal(out)
	if err != nil {
		r.log.Error().Err(err).Msg("forward marshal")
		r.sendError(ch, codeInternal, p.SessionID)
		return
	}

	peers := r.peersOf(p.SessionID, ch.ID)
	delivered := r.fanout(p.SessionID, peers, b, kind)
	metrics.MessagesRelayed.WithLabelValues(kind).Add(float64(delivered))
	if len(peers) == 0 {
		r.log.Debug().Str("session_id", p.SessionID.String()).Str("type", kind).Msg("no peers bound, dropped")
	}
}

func validateNegotiation(kind string, p negotiationPayload) error {
	switch kind {
	case msgOffer:
		_, err := rtc.ParseSessionDescription(p.SDP, webrtc.SDPTypeOffer)
		return err
	case msgAnswer:
		_, err := rtc.ParseSessionDescription(p.SDP, webrtc.SDPTypeAnswer)
		return err
	default:
		_, err := rtc.ParseCandidate(p.Candidate)
		return err
	}
}
