package relay

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const (
	msgAuthenticate = "authenticate"
	msgJoin         = "join"
	msgLeave        = "leave"
	msgOffer        = "offer"
	msgAnswer       = "answer"
	msgCandidate    = "candidate"
	msgPing         = "ping"

	msgPong              = "pong"
	msgError             = "error"
	msgAuthSuccess       = "auth:success"
	msgAuthError         = "auth:error"
	msgParticipantJoined = "participant:joined"
	msgParticipantLeft   = "participant:left"
)

// Client-facing error codes. Internal detail stays in the server log.
const (
	codeUnauthenticated = "unauthenticated"
	codeInvalidToken    = "invalid_token"
	codeBadPayload      = "bad_payload"
	codeSessionNotFound = "session_not_found"
	codeNotParticipant  = "not_participant"
	codeReplaced        = "replaced"
	codeInternal        = "internal"
)

const (
	reasonExplicit   = "explicit"
	reasonDisconnect = "disconnect"
)

type errorMsg struct {
	Type      string           `json:"type"`
	Error     string           `json:"error"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
}

type participantMsg struct {
	Type      string           `json:"type"`
	UserID    domain.UserID    `json:"userId"`
	SessionID domain.SessionID `json:"sessionId"`
	Timestamp int64            `json:"timestamp"`
	Reason    string           `json:"reason,omitempty"`
}

// forwardMsg is an offer, answer or candidate as delivered to peers. The
// payload field is copied verbatim from the sender.
type forwardMsg struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	SDP       json.RawMessage  `json:"sdp,omitempty"`
	Candidate json.RawMessage  `json:"candidate,omitempty"`
	From      domain.UserID    `json:"from"`
	Timestamp int64            `json:"timestamp"`
}

func (r *Relay) stamp() int64 { return r.now().UnixMilli() }

func (r *Relay) sendJSON(ch *Channel, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	r.deliver(ch, "", b, "reply")
}

func (r *Relay) sendError(ch *Channel, code string, sid domain.SessionID) {
	r.sendJSON(ch, errorMsg{Type: msgError, Error: code, SessionID: sid})
}

// fanout queues one frame on every peer without waiting on any of them.
func (r *Relay) fanout(sid domain.SessionID, peers []*Channel, frame core.Frame, kind string) int {
	delivered := 0
	for _, peer := range peers {
		if r.deliver(peer, sid, frame, kind) {
			delivered++
		}
	}
	return delivered
}

func (r *Relay) deliver(ch *Channel, sid domain.SessionID, frame core.Frame, kind string) bool {
	err := ch.conn.TrySend(frame)
	if err == nil {
		return true
	}
	metrics.MessagesDropped.WithLabelValues(kind).Inc()
	if !errors.Is(err, core.ErrBackpressure) {
		r.log.Debug().Err(err).Str("channel_id", ch.ID.String()).Str("type", kind).Msg("send on closed channel")
		return false
	}

	action := r.Policy.OnBackpressure(sid, ch.ID)
	r.log.Warn().
		Str("channel_id", ch.ID.String()).
		Str("session_id", sid.String()).
		Str("type", kind).
		Stringer("action", action).
		Msg("backpressure")
	if action == app.KickChannel {
		ch.conn.Close()
	}
	return false
}
