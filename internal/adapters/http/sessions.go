package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
)

type handlers struct {
	deps Deps
}

type createSessionRequest struct {
	Kind domain.Kind `json:"kind"`
}

type conferenceRequest struct {
	Targets []bridge.Target `json:"targets" binding:"required,dive"`
}

type legJSON struct {
	LegID         string `json:"legId"`
	TargetAddress string `json:"targetAddress"`
	ConferenceID  string `json:"conferenceId"`
}

type failedLegJSON struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

type conferenceResponse struct {
	ConferenceID   string          `json:"conferenceId"`
	ConferenceName string          `json:"conferenceName"`
	Legs           []legJSON       `json:"legs"`
	Failed         []failedLegJSON `json:"failed"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
	}
	if req.Kind == "" {
		req.Kind = domain.KindVoice
	}
	if !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}

	sess, err := h.deps.Store.CreateSession(c.Request.Context(), currentUser(c), req.Kind)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.deps.Store.ListActiveSessions()})
}

func (h *handlers) getSession(c *gin.Context) {
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionView{Session: sess, Channels: len(h.deps.Relay.Bound(sess.ID))})
}

// sessionView is a session plus the number of live channels bound to it.
type sessionView struct {
	*domain.Session
	Channels int `json:"channels"`
}

// deleteSession ends a session on behalf of its owner and unbinds every
// channel still attached to it.
func (h *handlers) deleteSession(c *gin.Context) {
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}
	if sess.OwnerID != currentUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
		return
	}
	h.deps.Store.DeleteSession(c.Request.Context(), sess.ID)
	h.deps.Relay.ReleaseSession(sess.ID)
	c.Status(http.StatusNoContent)
}

func (h *handlers) createConference(c *gin.Context) {
	if h.deps.Bridge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telephony_disabled"})
		return
	}
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}
	if sess.OwnerID != currentUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
		return
	}
	var req conferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}

	res, err := h.deps.Bridge.CreateConference(c.Request.Context(), sess.ID, req.Targets)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, core.ErrGatewayUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "gateway_unavailable"})
		return
	}

	out := conferenceResponse{
		ConferenceID:   res.ConferenceID,
		ConferenceName: res.ConferenceName,
		Legs:           make([]legJSON, 0, len(res.Legs)),
		Failed:         make([]failedLegJSON, 0, len(res.Failed)),
	}
	for _, l := range res.Legs {
		out.Legs = append(out.Legs, legJSON{LegID: l.LegID, TargetAddress: l.TargetAddress, ConferenceID: l.ConferenceID})
	}
	// provider detail stays in the server log
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, failedLegJSON{Address: f.Address, Error: "leg_failed"})
	}

	status := http.StatusCreated
	if res.AllFailed() {
		status = http.StatusBadGateway
	}
	c.JSON(status, out)
}

func (h *handlers) endLeg(c *gin.Context) {
	if h.deps.Bridge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telephony_disabled"})
		return
	}
	if err := h.deps.Bridge.EndLeg(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) loadSession(c *gin.Context) (*domain.Session, bool) {
	sess, err := h.deps.Store.GetSession(c.Request.Context(), domain.SessionID(c.Param("id")))
	switch {
	case err == nil:
		return sess, true
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("load session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
	return nil, false
}
