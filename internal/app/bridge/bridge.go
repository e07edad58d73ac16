// Package bridge stands up provider-hosted conferences and attaches outbound
// call legs to them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const (
	DefaultLegTimeout = 15 * time.Second
	maxConcurrentLegs = 8
	browserPrefix     = "client:"
)

// Target is one participant address offered to a conference.
type Target struct {
	Address      string `json:"address"`
	IsBridgeable bool   `json:"isBridgeable"`
}

// needsLeg reports whether the target is reached by an outbound telephony
// call rather than over WebRTC.
func (t Target) needsLeg() bool {
	return t.IsBridgeable && t.Address != "" && !strings.HasPrefix(t.Address, browserPrefix)
}

// LegError is a provider failure for one target, kept verbatim.
type LegError struct {
	Address string
	Err     error
}

func (e LegError) Error() string { return fmt.Sprintf("leg %s: %v", e.Address, e.Err) }
func (e LegError) Unwrap() error { return e.Err }

// Result is the partial outcome of CreateConference. Legs and Failed keep
// the order of the targets they came from.
type Result struct {
	ConferenceID   string
	ConferenceName string
	Legs           []domain.ConferenceLeg
	Failed         []LegError
}

// AllFailed reports whether legs were attempted and none was placed.
func (r *Result) AllFailed() bool {
	return len(r.Legs) == 0 && len(r.Failed) > 0
}

func (r *Result) FailedAddresses() []string {
	out := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.Address
	}
	return out
}

type Config struct {
	From              string
	StatusCallbackURL string
	LegTimeout        time.Duration
	HoldMusicURL      string
	Record            bool
}

type Coordinator struct {
	Gateway core.TelephonyGateway
	cfg     Config
	log     zerolog.Logger
}

func NewCoordinator(gw core.TelephonyGateway, cfg Config) *Coordinator {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = DefaultLegTimeout
	}
	return &Coordinator{
		Gateway: gw,
		cfg:     cfg,
		log:     log.With().Str("module", "bridge").Logger(),
	}
}

// ConferenceName is derived from the session so that repeated creation for
// one session lands in the same provider conference.
func ConferenceName(id domain.SessionID) string {
	return "conference-" + id.String()
}

// CreateConference creates the session's conference and dials every target
// that needs a telephony leg. Leg failures are reported in the result, never
// as an error; the error is only for the conference itself.
func (c *Coordinator) CreateConference(ctx context.Context, id domain.SessionID, targets []Target) (*Result, error) {
	if id == "" {
		return nil, errors.New("create conference: empty session id")
	}
	name := ConferenceName(id)

	confID, err := c.Gateway.CreateConference(ctx, core.ConferenceRequest{
		Name:         name,
		StartOnEnter: true,
		EndOnExit:    false,
		Record:       c.cfg.Record,
	})
	if err != nil {
		c.log.Error().Err(err).Str("session_id", id.String()).Str("conference", name).Msg("create conference failed")
		return nil, fmt.Errorf("create conference %s: %w", name, err)
	}
	c.log.Info().Str("session_id", id.String()).Str("conference_id", confID).Str("conference", name).Msg("conference created")

	instructions := GenerateJoinInstructions(name, c.JoinOptions())

	type outcome struct {
		leg *domain.ConferenceLeg
		err *LegError
	}
	outcomes := make([]outcome, len(targets))

	var g errgroup.Group
	g.SetLimit(maxConcurrentLegs)
	for i, t := range targets {
		if !t.needsLeg() {
			continue
		}
		g.Go(func() error {
			legID, err := c.dial(ctx, t.Address, instructions)
			if err != nil {
				outcomes[i].err = &LegError{Address: t.Address, Err: err}
				return nil
			}
			outcomes[i].leg = &domain.ConferenceLeg{LegID: legID, TargetAddress: t.Address, ConferenceID: confID}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{ConferenceID: confID, ConferenceName: name}
	for _, o := range outcomes {
		switch {
		case o.leg != nil:
			res.Legs = append(res.Legs, *o.leg)
		case o.err != nil:
			res.Failed = append(res.Failed, *o.err)
		}
	}

	c.log.Info().
		Str("session_id", id.String()).
		Str("conference_id", confID).
		Int("legs", len(res.Legs)).
		Strs("failed", res.FailedAddresses()).
		Msg("conference legs placed")
	return res, nil
}

// dial places one leg under its own timeout. No retry.
func (c *Coordinator) dial(ctx context.Context, address, instructions string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()

	legID, err := c.Gateway.CreateCall(ctx, core.CallRequest{
		To:             address,
		From:           c.cfg.From,
		Instructions:   instructions,
		StatusCallback: c.cfg.StatusCallbackURL,
		RingTimeout:    c.cfg.LegTimeout,
	})
	if err != nil {
		metrics.LegsCreated.WithLabelValues("failed").Inc()
		c.log.Warn().Err(err).Str("address", address).Msg("leg failed")
		return "", err
	}
	metrics.LegsCreated.WithLabelValues("placed").Inc()
	c.log.Info().Str("address", address).Str("leg_id", legID).Msg("leg placed")
	return legID, nil
}

// JoinOptions are the options every dialed leg joins with.
func (c *Coordinator) JoinOptions() JoinOptions {
	return JoinOptions{
		StartOnEnter: true,
		EndOnExit:    false,
		HoldMusicURL: c.cfg.HoldMusicURL,
		Record:       c.cfg.Record,
	}
}

// EndLeg hangs up one leg. A leg the provider no longer knows is already
// ended, which counts as success.
func (c *Coordinator) EndLeg(ctx context.Context, legID string) error {
	if legID == "" {
		return errors.New("end leg: empty leg id")
	}
	err := c.Gateway.EndCall(ctx, legID)
	switch {
	case err == nil:
		c.log.Info().Str("leg_id", legID).Msg("leg ended")
		return nil
	case errors.Is(err, core.ErrLegNotFound):
		c.log.Debug().Str("leg_id", legID).Msg("leg already ended")
		return nil
	default:
		c.log.Error().Err(err).Str("leg_id", legID).Msg("end leg failed")
		return fmt.Errorf("end leg %s: %w", legID, err)
	}
}
