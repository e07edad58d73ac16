package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callbridge/internal/domain"
)

func TestStore_CreateWritesThrough(t *testing.T) {
	cache := newMemCache()
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	s := NewSessionStore(WithCache(cache), WithICEServers(ice))

	sess, err := s.CreateSession(context.Background(), "owner", domain.KindVoice)
	require.NoError(t, err)

	assert.Equal(t, domain.StateCreated, sess.State)
	assert.Empty(t, sess.Participants)
	assert.Equal(t, ice, sess.NegotiationConfig)
	assert.True(t, cache.has(SessionKey(sess.ID)))
	assert.Equal(t, time.Hour, cache.ttls[SessionKey(sess.ID)])
}

func TestStore_CacheFailureIsNotFatal(t *testing.T) {
	var results []WriteThrough
	s := NewSessionStore(WithCache(downCache{}), WithWriteThroughObserver(func(w WriteThrough) {
		results = append(results, w)
	}))
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "owner", domain.KindVideo)
	require.NoError(t, err)

	got, _, err := s.AddParticipant(ctx, sess.ID, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, got.State)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.False(t, r.OK())
		assert.ErrorIs(t, r.Err, errDown)
	}
	assert.Equal(t, OpSet, results[0].Op)
	assert.Equal(t, SessionKey(sess.ID), results[0].Key)
}

func TestStore_AddThenGetSeesParticipant(t *testing.T) {
	s := NewSessionStore(WithCache(newMemCache()))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	_, _, err := s.AddParticipant(ctx, sess.ID, "u1", "c1")
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	p, ok := got.Participant("u1")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("c1"), p.ChannelID)
	assert.Equal(t, domain.ParticipantConnected, p.Status)
}

func TestStore_AddUnknownSession(t *testing.T) {
	s := NewSessionStore(WithCache(newMemCache()))
	_, _, err := s.AddParticipant(context.Background(), "missing", "u1", "c1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_RejoinReplacesChannel(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	_, replaced, err := s.AddParticipant(ctx, sess.ID, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, replaced)

	got, replaced, err := s.AddParticipant(ctx, sess.ID, "u1", "c2")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID("c1"), replaced)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, domain.ChannelID("c2"), got.Participants[0].ChannelID)
}

func TestStore_JoinLeaveScenario(t *testing.T) {
	cache := newMemCache()
	s := NewSessionStore(WithCache(cache))
	ctx := context.Background()

	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	_, _, err := s.AddParticipant(ctx, sess.ID, "user1", "c1")
	require.NoError(t, err)
	_, _, err = s.AddParticipant(ctx, sess.ID, "user2", "c2")
	require.NoError(t, err)

	got, deleted, err := s.RemoveParticipant(ctx, sess.ID, "user1")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, domain.StateActive, got.State)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, domain.UserID("user2"), got.Participants[0].UserID)

	got, deleted, err = s.RemoveParticipant(ctx, sess.ID, "user2")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, domain.StateEnded, got.State)
	assert.Empty(t, got.Participants)

	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Empty(t, s.ListActiveSessions())
	assert.Zero(t, cache.len())

	_, _, err = s.RemoveParticipant(ctx, sess.ID, "user2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_ConcurrentDrainDeletesOnce(t *testing.T) {
	cache := newMemCache()
	s := NewSessionStore(WithCache(cache))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	users := []domain.UserID{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, u := range users {
		_, _, err := s.AddParticipant(ctx, sess.ID, u, domain.ChannelID("ch-"+u))
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deletes int
	)
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, deleted, err := s.RemoveParticipant(ctx, sess.ID, u)
			if err != nil {
				return
			}
			if deleted {
				mu.Lock()
				deletes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, deletes)
	assert.Empty(t, s.ListActiveSessions())
	assert.Zero(t, cache.len())
}

func cachedSession(t *testing.T, c *memCache, id domain.SessionID) *domain.Session {
	t.Helper()
	raw, err := c.Get(context.Background(), SessionKey(id))
	require.NoError(t, err)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(raw, &sess))
	return &sess
}

func TestStore_SlowWriteThroughDoesNotOverwriteNewerState(t *testing.T) {
	cache := newGatedCache()
	s := NewSessionStore(WithCache(cache))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	cache.arm()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := s.AddParticipant(ctx, sess.ID, "u1", "c1")
		assert.NoError(t, err)
	}()
	<-cache.entered

	go func() {
		defer wg.Done()
		_, _, err := s.AddParticipant(ctx, sess.ID, "u2", "c2")
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		got, err := s.GetSession(ctx, sess.ID)
		return err == nil && len(got.Participants) == 2
	}, time.Second, 5*time.Millisecond)

	close(cache.release)
	wg.Wait()

	assert.Len(t, cachedSession(t, cache.memCache, sess.ID).Participants, 2)
}

func TestStore_SlowWriteThroughDoesNotOutliveDelete(t *testing.T) {
	cache := newGatedCache()
	s := NewSessionStore(WithCache(cache))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	cache.arm()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = s.AddParticipant(ctx, sess.ID, "u1", "c1")
	}()
	<-cache.entered

	deleted := make(chan struct{})
	go func() {
		defer close(deleted)
		s.DeleteSession(ctx, sess.ID)
	}()
	require.Eventually(t, func() bool {
		_, err := s.GetSession(ctx, sess.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	close(cache.release)
	<-done
	<-deleted

	assert.False(t, cache.has(SessionKey(sess.ID)))
}

func TestStore_RemoveFromCreatedSessionKeepsIt(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	got, deleted, err := s.RemoveParticipant(ctx, sess.ID, "stranger")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, domain.StateCreated, got.State)
	assert.Len(t, s.ListActiveSessions(), 1)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	cache := newMemCache()
	s := NewSessionStore(WithCache(cache))
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	assert.True(t, s.DeleteSession(ctx, sess.ID))
	assert.False(t, s.DeleteSession(ctx, sess.ID))
	assert.False(t, s.DeleteSession(ctx, "never-existed"))
	assert.Zero(t, cache.len())
}

func TestStore_LazyRecoveryFromCache(t *testing.T) {
	cache := newMemCache()
	ctx := context.Background()
	first := NewSessionStore(WithCache(cache))
	sess, _ := first.CreateSession(ctx, "owner", domain.KindVoice)
	_, _, err := first.AddParticipant(ctx, sess.ID, "u1", "c1")
	require.NoError(t, err)

	restarted := NewSessionStore(WithCache(cache))
	assert.Empty(t, restarted.ListActiveSessions())

	got, err := restarted.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, domain.StateActive, got.State)
	require.Len(t, got.Participants, 1)
	assert.Len(t, restarted.ListActiveSessions(), 1)

	_, _, err = restarted.AddParticipant(ctx, sess.ID, "u2", "c2")
	require.NoError(t, err)
}

func TestStore_EndedSessionIsNotResurrected(t *testing.T) {
	cache := newMemCache()
	ctx := context.Background()
	s := NewSessionStore(WithCache(cache))
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	// a peer process re-mirrors the record after the delete
	stale, err := cache.Get(ctx, SessionKey(sess.ID))
	require.NoError(t, err)
	s.DeleteSession(ctx, sess.ID)
	require.NoError(t, cache.Set(ctx, SessionKey(sess.ID), stale, time.Hour))

	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = s.AddParticipant(ctx, sess.ID, "u1", "c1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_ListOrderedByCreation(t *testing.T) {
	clk := newClock()
	s := NewSessionStore(WithClock(clk.Now))
	ctx := context.Background()

	a, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	clk.Advance(time.Second)
	b, _ := s.CreateSession(ctx, "owner", domain.KindVoice)

	list := s.ListActiveSessions()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	got, _, _ := s.AddParticipant(ctx, sess.ID, "u1", "c1")

	got.Participants[0].UserID = "mallory"

	again, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u1"), again.Participants[0].UserID)
}

func TestStore_RemoveChannelIgnoresStaleChannel(t *testing.T) {
	s := NewSessionStore()
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "owner", domain.KindVoice)
	_, _, _ = s.AddParticipant(ctx, sess.ID, "u1", "old")
	_, _, _ = s.AddParticipant(ctx, sess.ID, "u1", "new")

	_, _, err := s.RemoveChannel(ctx, sess.ID, "u1", "old")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	got, deleted, err := s.RemoveChannel(ctx, sess.ID, "u1", "new")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, domain.StateEnded, got.State)
}
