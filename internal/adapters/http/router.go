package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/adapters/signal"
	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/app/relay"
	"github.com/dkeye/callbridge/internal/config"
	"github.com/dkeye/callbridge/internal/core"
)

// Deps are the components the HTTP surface fronts. Bridge is nil when no
// telephony provider is configured.
type Deps struct {
	Store    *app.SessionStore
	Relay    *relay.Relay
	Bridge   *bridge.Coordinator
	Verifier core.IdentityVerifier
	Signal   *signal.WSController
	// Health reports readiness of external dependencies; nil means always ready.
	Health func(ctx context.Context) error
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(d.Store.ListActiveSessions())})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	h := &handlers{deps: d}

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		d.Signal.HandleSignal(ctx, c)
	})

	authed := api.Group("", BearerAuth(d.Verifier))
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/sessions/:id", h.getSession)
	authed.DELETE("/sessions/:id", h.deleteSession)
	authed.POST("/sessions/:id/conference", h.createConference)
	authed.DELETE("/legs/:id", h.endLeg)

	hooks := r.Group("/webhooks/telephony")
	hooks.POST("/call", h.telephonyWebhook(bridge.EventCall))
	hooks.POST("/conference", h.telephonyWebhook(bridge.EventConference))
	hooks.POST("/recording", h.telephonyWebhook(bridge.EventRecording))

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Bool("telephony", d.Bridge != nil).Msg("router setup")
	return r
}
