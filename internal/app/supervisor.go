package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const DefaultSweepSchedule = "@every 1m"

// scheduleParser accepts standard 5-field expressions and descriptors such as @every 30s.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a sweep schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Supervisor expires sessions that outlived the store TTL. It is one of
// three paths to ended; the other two are drain and explicit delete.
type Supervisor struct {
	Store *SessionStore
	// Idle is the minimum quiet period before an expired session is removed.
	Idle     time.Duration
	Schedule string
	// OnExpired runs after each swept session, outside any store lock.
	OnExpired func(domain.SessionID)

	now func() time.Time
	log zerolog.Logger
}

func NewSupervisor(store *SessionStore, idle time.Duration, schedule string, onExpired func(domain.SessionID)) *Supervisor {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Supervisor{
		Store:     store,
		Idle:      idle,
		Schedule:  schedule,
		OnExpired: onExpired,
		now:       store.now,
		log:       log.With().Str("module", "app.supervisor").Logger(),
	}
}

// Sweep deletes every session older than the TTL that has been idle for at
// least Idle and returns how many it removed.
func (s *Supervisor) Sweep(ctx context.Context) int {
	now := s.now()
	ttl := s.Store.TTL()

	deleted := 0
	for _, sess := range s.Store.ListActiveSessions() {
		if !sess.Expired(now, ttl, s.Idle) {
			continue
		}
		s.Store.DeleteSession(ctx, sess.ID)
		deleted++
		metrics.SessionsEnded.WithLabelValues("expired").Inc()
		metrics.SweepDeleted.Inc()
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Str("state", string(sess.State)).
			Int("participants", len(sess.Participants)).
			Dur("age", now.Sub(sess.CreatedAt)).
			Msg("session expired")
		if s.OnExpired != nil {
			s.OnExpired(sess.ID)
		}
	}
	s.Store.PruneTombstones(now)

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("sweep finished")
	}
	return deleted
}

// Start runs Sweep on Schedule until ctx is cancelled. It blocks.
func (s *Supervisor) Start(ctx context.Context) error {
	sched, err := ParseSchedule(s.Schedule)
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", s.Schedule).Dur("ttl", s.Store.TTL()).Dur("idle", s.Idle).Msg("supervisor started")

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("supervisor stopped")
			return nil
		case <-timer.C:
			s.Sweep(ctx)
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}
