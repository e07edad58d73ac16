package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callbridge/internal/domain"
)

func TestSupervisor_SweepsAbandonedSession(t *testing.T) {
	clk := newClock()
	cache := newMemCache()
	s := NewSessionStore(WithCache(cache), WithClock(clk.Now))
	ctx := context.Background()

	old, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	clk.Advance(2 * time.Hour)
	fresh, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	var released []domain.SessionID
	sup := NewSupervisor(s, 5*time.Minute, "", func(id domain.SessionID) { released = append(released, id) })

	assert.Equal(t, 1, sup.Sweep(ctx))
	assert.Equal(t, []domain.SessionID{old.ID}, released)

	_, err := s.GetSession(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.False(t, cache.has(SessionKey(old.ID)))
	assert.True(t, cache.has(SessionKey(fresh.ID)))
}

func TestSupervisor_KeepsRecentlyActiveSession(t *testing.T) {
	clk := newClock()
	s := NewSessionStore(WithClock(clk.Now))
	ctx := context.Background()

	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	clk.Advance(2 * time.Hour)
	_, _, err := s.AddParticipant(ctx, sess.ID, "u1", "c1")
	require.NoError(t, err)

	sup := NewSupervisor(s, 5*time.Minute, "", nil)
	assert.Zero(t, sup.Sweep(ctx))

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 1, sup.Sweep(ctx))
	assert.Empty(t, s.ListActiveSessions())
}

func TestSupervisor_PrunesTombstones(t *testing.T) {
	clk := newClock()
	s := NewSessionStore(WithClock(clk.Now))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	s.DeleteSession(ctx, sess.ID)
	require.Len(t, s.ended, 1)

	clk.Advance(time.Hour)
	NewSupervisor(s, 0, "", nil).Sweep(ctx)
	assert.Empty(t, s.ended)
}

func TestSupervisor_StartRejectsBadSchedule(t *testing.T) {
	sup := NewSupervisor(NewSessionStore(), 0, "every minute please", nil)
	assert.Error(t, sup.Start(context.Background()))
}

func TestSupervisor_StartStopsOnCancel(t *testing.T) {
	sup := NewSupervisor(NewSessionStore(), 0, "@every 10ms", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("*/5 * * * *")
	assert.NoError(t, err)
	_, err = ParseSchedule("@every 1m")
	assert.NoError(t, err)
	_, err = ParseSchedule("")
	assert.Error(t, err)
}
