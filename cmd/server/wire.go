package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/adapters/auth"
	"github.com/dkeye/callbridge/internal/adapters/cache"
	"github.com/dkeye/callbridge/internal/adapters/rtc"
	wssignal "github.com/dkeye/callbridge/internal/adapters/signal"
	"github.com/dkeye/callbridge/internal/adapters/telephony"
	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/app/relay"
	"github.com/dkeye/callbridge/internal/config"
)

type components struct {
	cache      *cache.RedisCache
	store      *app.SessionStore
	verifier   *auth.JWTVerifier
	relay      *relay.Relay
	bridge     *bridge.Coordinator
	supervisor *app.Supervisor
	signal     *wssignal.WSController
}

func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	ice, err := rtc.ICEServers(cfg.Session.ICEServers)
	if err != nil {
		return nil, err
	}
	storeOpts := []app.StoreOption{
		app.WithTTL(cfg.Session.TTL),
		app.WithICEServers(ice),
	}
	authOpts := []auth.Option{}
	if cfg.Auth.Issuer != "" {
		authOpts = append(authOpts, auth.WithIssuer(cfg.Auth.Issuer))
	}

	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		c.cache = rc
		storeOpts = append(storeOpts, app.WithCache(rc))
		authOpts = append(authOpts, auth.WithRevocations(rc))
		log.Info().Str("module", "main").Str("addr", cfg.Redis.Addr).Msg("redis cache connected")
	} else {
		log.Warn().Str("module", "main").Msg("redis disabled, sessions are process-local")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Str("module", "main").Msg("auth.jwt_secret is empty, every token will be rejected")
	}
	c.verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret, authOpts...)
	c.store = app.NewSessionStore(storeOpts...)

	policy, err := cfg.Session.Policy()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.relay = relay.New(c.store, c.verifier, policy)
	c.supervisor = app.NewSupervisor(c.store, cfg.Session.IdleGrace, cfg.Session.SweepSchedule, c.relay.ReleaseSession)
	c.signal = wssignal.NewWSController(c.relay, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})

	if cfg.TelephonyEnabled() {
		gw := telephony.NewClient(telephony.Config{
			BaseURL:    cfg.Telephony.BaseURL,
			AccountSID: cfg.Telephony.AccountSID,
			AuthToken:  cfg.Telephony.AuthToken,
		})
		c.bridge = bridge.NewCoordinator(gw, bridge.Config{
			From:              cfg.Telephony.FromNumber,
			StatusCallbackURL: cfg.Telephony.StatusCallbackURL,
			LegTimeout:        cfg.Telephony.LegTimeout,
			HoldMusicURL:      cfg.Telephony.HoldMusicURL,
			Record:            cfg.Telephony.Record,
		})
	} else {
		log.Warn().Str("module", "main").Msg("telephony not configured, conference endpoints disabled")
	}
	return c, nil
}

func (c *components) health(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// recoverAll loads every session mirrored in the cache into the store.
func (c *components) recoverAll(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	keys, err := c.cache.Keys(ctx, app.KeyPattern)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		id, ok := app.SessionIDFromKey(k)
		if !ok {
			continue
		}
		if _, err := c.store.GetSession(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

func (c *components) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("redis close")
		}
	}
}
