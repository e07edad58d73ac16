package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/app/bridge"
)

// telephonyWebhook extracts ids and status from a provider callback and
// hands them to the coordinator. The provider only needs a 2xx.
func (h *handlers) telephonyWebhook(kind bridge.EventKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("kind", string(kind)).Msg("bad webhook form")
			c.Status(http.StatusBadRequest)
			return
		}
		form := c.Request.PostForm

		var raw string
		switch kind {
		case bridge.EventCall:
			raw = form.Get("CallStatus")
		case bridge.EventConference:
			raw = form.Get("StatusCallbackEvent")
		case bridge.EventRecording:
			raw = form.Get("RecordingStatus")
		}

		ev := bridge.StatusEvent{
			Kind:         kind,
			ConferenceID: form.Get("ConferenceSid"),
			LegID:        form.Get("CallSid"),
			Status:       bridge.NormalizeStatus(kind, raw),
			RecordingURL: form.Get("RecordingUrl"),
		}
		if h.deps.Bridge != nil {
			h.deps.Bridge.Observe(ev)
		} else {
			log.Debug().Str("module", "adapters.http").Str("kind", string(kind)).Msg("webhook ignored, telephony disabled")
		}
		c.Status(http.StatusNoContent)
	}
}
