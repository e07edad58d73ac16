package app

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const (
	DefaultSessionTTL     = time.Hour
	defaultCacheOpTimeout = 2 * time.Second
)

// SessionStore owns every session of this process. The map is only touched
// under mu and every mutation is mirrored to the cache after the lock is
// released.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	// ended remembers deleted ids until their cache entry must have expired,
	// so lazy recovery never brings back an ended session.
	ended map[domain.SessionID]time.Time

	cache     core.Cache
	ttl       time.Duration
	ice       []webrtc.ICEServer
	now       func() time.Time
	opTimeout time.Duration
	observe   func(WriteThrough)

	// keyLocks orders cache writes per session; see lockKey.
	keysMu   sync.Mutex
	keyLocks map[domain.SessionID]*keyLock
}

type StoreOption func(*SessionStore)

// WithCache enables write-through to c. Without it the store is process-local.
func WithCache(c core.Cache) StoreOption {
	return func(s *SessionStore) { s.cache = c }
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithICEServers sets the relay endpoints copied into each new session.
func WithICEServers(servers []webrtc.ICEServer) StoreOption {
	return func(s *SessionStore) { s.ice = slices.Clone(servers) }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithWriteThroughObserver receives every cache outcome after it is logged.
func WithWriteThroughObserver(fn func(WriteThrough)) StoreOption {
	return func(s *SessionStore) { s.observe = fn }
}

func NewSessionStore(opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		sessions:  make(map[domain.SessionID]*domain.Session),
		ended:     make(map[domain.SessionID]time.Time),
		keyLocks:  make(map[domain.SessionID]*keyLock),
		ttl:       DefaultSessionTTL,
		now:       time.Now,
		opTimeout: defaultCacheOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) TTL() time.Duration { return s.ttl }

func (s *SessionStore) CreateSession(ctx context.Context, owner domain.UserID, kind domain.Kind) (*domain.Session, error) {
	if !kind.Valid() {
		kind = domain.KindVoice
	}
	sess := domain.NewSession(owner, kind, s.ice, s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	snap := sess.Clone()
	s.updateGaugeLocked()
	s.mu.Unlock()

	metrics.SessionsCreated.Inc()
	log.Info().Str("module", "app.store").Str("session_id", sess.ID.String()).Str("owner_id", owner.String()).Str("kind", string(kind)).Msg("session created")

	s.persist(ctx, sess.ID)
	return snap, nil
}

// GetSession reads the process map first and falls back to the cache.
func (s *SessionStore) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	var snap *domain.Session
	if ok {
		snap = sess.Clone()
	}
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if recovered := s.recover(ctx, id); recovered != nil {
		return recovered, nil
	}
	return nil, domain.ErrSessionNotFound
}

// AddParticipant joins uid over channel ch. A user already in the session is
// replaced in place; the channel it held before is returned.
func (s *SessionStore) AddParticipant(ctx context.Context, id domain.SessionID, uid domain.UserID, ch domain.ChannelID) (*domain.Session, domain.ChannelID, error) {
	if !s.resident(id) {
		s.recover(ctx, id)
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, "", domain.ErrSessionNotFound
	}
	replaced, err := sess.Upsert(domain.Participant{
		UserID:    uid,
		ChannelID: ch,
		JoinedAt:  s.now(),
		Status:    domain.ParticipantConnected,
	})
	snap := sess.Clone()
	s.mu.Unlock()
	if err != nil {
		return nil, "", err
	}

	logger := log.Info().Str("module", "app.store").Str("session_id", id.String()).Str("user_id", uid.String()).Str("channel_id", ch.String())
	if replaced != "" {
		logger = logger.Str("replaced_channel_id", replaced.String())
	}
	logger.Int("participants", len(snap.Participants)).Msg("participant added")

	s.persist(ctx, id)
	return snap, replaced, nil
}

// RemoveParticipant drops uid. When the last participant of an active
// session leaves, the session ends and is deleted from both tiers; the
// returned snapshot is then in state ended and deleted is true.
func (s *SessionStore) RemoveParticipant(ctx context.Context, id domain.SessionID, uid domain.UserID) (*domain.Session, bool, error) {
	return s.remove(ctx, id, uid, "")
}

// RemoveChannel is RemoveParticipant guarded by the channel: it fails with
// domain.ErrNotParticipant unless ch is still the live channel of uid.
func (s *SessionStore) RemoveChannel(ctx context.Context, id domain.SessionID, uid domain.UserID, ch domain.ChannelID) (*domain.Session, bool, error) {
	return s.remove(ctx, id, uid, ch)
}

func (s *SessionStore) remove(ctx context.Context, id domain.SessionID, uid domain.UserID, ch domain.ChannelID) (sess *domain.Session, deleted bool, err error) {
	if !s.resident(id) {
		s.recover(ctx, id)
	}

	s.mu.Lock()
	cur, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, false, domain.ErrSessionNotFound
	}
	if ch != "" && !cur.HasChannel(uid, ch) {
		s.mu.Unlock()
		return nil, false, domain.ErrNotParticipant
	}
	removed := cur.Remove(uid, s.now())
	deleted = cur.State == domain.StateEnded
	if deleted {
		s.forgetLocked(id)
	}
	snap := cur.Clone()
	s.mu.Unlock()

	l := log.Info().Str("module", "app.store").Str("session_id", id.String()).Str("user_id", uid.String())
	switch {
	case deleted:
		l.Msg("last participant left, session ended")
		metrics.SessionsEnded.WithLabelValues("drained").Inc()
		s.drop(ctx, id)
	case removed:
		l.Int("participants", len(snap.Participants)).Msg("participant removed")
		s.persist(ctx, id)
	default:
		l.Msg("remove ignored, not a participant")
	}
	return snap, deleted, nil
}

// DeleteSession removes id from both tiers. It is idempotent and reports
// whether the session was held in this process.
func (s *SessionStore) DeleteSession(ctx context.Context, id domain.SessionID) bool {
	s.mu.Lock()
	cur, existed := s.sessions[id]
	if existed {
		cur.End(s.now())
	}
	s.forgetLocked(id)
	s.mu.Unlock()

	if existed {
		log.Info().Str("module", "app.store").Str("session_id", id.String()).Msg("session deleted")
	}
	s.drop(ctx, id)
	return existed
}

// ListActiveSessions is a snapshot of the process map ordered by creation.
// It never consults the cache.
func (s *SessionStore) ListActiveSessions() []*domain.Session {
	s.mu.RLock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *domain.Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// PruneTombstones forgets ended ids whose cache entry has expired anyway.
func (s *SessionStore) PruneTombstones(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.ended {
		if now.Sub(at) >= s.ttl {
			delete(s.ended, id)
		}
	}
}

func (s *SessionStore) resident(id domain.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// recover loads id from the cache into the process map. A concurrent
// recovery or creation wins over the loaded copy.
func (s *SessionStore) recover(ctx context.Context, id domain.SessionID) *domain.Session {
	loaded, wt := s.load(ctx, id)
	s.report(wt)
	if loaded == nil || loaded.State == domain.StateEnded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.ended[id]; gone {
		return nil
	}
	if cur, ok := s.sessions[id]; ok {
		return cur.Clone()
	}
	s.sessions[id] = loaded
	s.updateGaugeLocked()
	metrics.CacheRecoveries.Inc()
	log.Info().Str("module", "app.store").Str("session_id", id.String()).Msg("session recovered from cache")
	return loaded.Clone()
}

func (s *SessionStore) forgetLocked(id domain.SessionID) {
	delete(s.sessions, id)
	s.ended[id] = s.now()
	s.updateGaugeLocked()
}

func (s *SessionStore) updateGaugeLocked() {
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
}
