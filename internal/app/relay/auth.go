package relay

import (
	"context"
	"encoding/json"

	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

// handleAuthenticate binds a verified user to the channel. A failed attempt
// leaves the channel as it was; a bound channel cannot switch users.
func (r *Relay) handleAuthenticate(ctx context.Context, ch *Channel, data []byte) {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		metrics.AuthFailures.Inc()
		r.sendJSON(ch, errorMsg{Type: msgAuthError, Error: codeBadPayload})
		return
	}

	uid, err := r.Verifier.Verify(ctx, p.Token)
	if err != nil {
		metrics.AuthFailures.Inc()
		r.log.Warn().Err(err).Str("channel_id", ch.ID.String()).Msg("authentication failed")
		r.sendJSON(ch, errorMsg{Type: msgAuthError, Error: codeInvalidToken})
		return
	}

	r.mu.Lock()
	if ch.user != "" && ch.user != uid && len(ch.sessions) > 0 {
		r.mu.Unlock()
		r.log.Warn().Str("channel_id", ch.ID.String()).Str("user_id", ch.user.String()).Str("new_user_id", uid.String()).Msg("identity switch on bound channel")
		r.sendJSON(ch, errorMsg{Type: msgAuthError, Error: codeInvalidToken})
		return
	}
	ch.user = uid
	r.mu.Unlock()

	r.log.Info().Str("channel_id", ch.ID.String()).Str("user_id", uid.String()).Msg("channel authenticated")
	r.sendJSON(ch, struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}{Type: msgAuthSuccess, UserID: uid})
}
