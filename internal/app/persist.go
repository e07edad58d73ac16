package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const keyPrefix = "session:"

func SessionKey(id domain.SessionID) string { return keyPrefix + id.String() }

// KeyPattern matches every session key in the cache.
const KeyPattern = keyPrefix + "*"

func SessionIDFromKey(key string) (domain.SessionID, bool) {
	id, ok := strings.CutPrefix(key, keyPrefix)
	if !ok || id == "" {
		return "", false
	}
	return domain.SessionID(id), true
}

type CacheOp string

const (
	OpSet    CacheOp = "set"
	OpGet    CacheOp = "get"
	OpDelete CacheOp = "delete"
)

// WriteThrough is the best-effort outcome of one cache interaction.
// A failed WriteThrough never fails the store operation that caused it;
// the in-process map stays authoritative.
type WriteThrough struct {
	Op  CacheOp
	Key string
	Err error
}

func (w WriteThrough) OK() bool { return w.Err == nil }

func (s *SessionStore) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
}

// persist mirrors the current state of id. Calls for one session are
// serialized and each re-reads the entry under mu, so the last Set always
// carries the newest state. A session no longer resident is left to drop.
func (s *SessionStore) persist(ctx context.Context, id domain.SessionID) {
	if s.cache == nil {
		return
	}
	unlock := s.lockKey(id)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.sessions[id]
	var sess *domain.Session
	if ok {
		sess = cur.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	wt := WriteThrough{Op: OpSet, Key: SessionKey(id)}
	raw, err := json.Marshal(sess)
	if err != nil {
		wt.Err = fmt.Errorf("encode session: %w", err)
		s.report(wt)
		return
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	wt.Err = s.cache.Set(cctx, wt.Key, raw, s.ttl)
	s.report(wt)
}

// drop deletes the cache entry of id. It shares the per-session lock with
// persist, so a Delete never lands before a Set that read the live entry.
func (s *SessionStore) drop(ctx context.Context, id domain.SessionID) {
	if s.cache == nil {
		return
	}
	unlock := s.lockKey(id)
	defer unlock()

	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	key := SessionKey(id)
	s.report(WriteThrough{Op: OpDelete, Key: key, Err: s.cache.Delete(cctx, key)})
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey takes the cache lock of one session and returns its release.
// Entries are removed once nobody holds or waits for them.
func (s *SessionStore) lockKey(id domain.SessionID) func() {
	s.keysMu.Lock()
	l, ok := s.keyLocks[id]
	if !ok {
		l = &keyLock{}
		s.keyLocks[id] = l
	}
	l.refs++
	s.keysMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.keysMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.keyLocks, id)
		}
		s.keysMu.Unlock()
	}
}

// load returns nil with an OK result on a plain miss.
func (s *SessionStore) load(ctx context.Context, id domain.SessionID) (*domain.Session, WriteThrough) {
	wt := WriteThrough{Op: OpGet, Key: SessionKey(id)}
	if s.cache == nil {
		return nil, wt
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	raw, err := s.cache.Get(cctx, wt.Key)
	if errors.Is(err, core.ErrCacheMiss) {
		return nil, wt
	}
	if err != nil {
		wt.Err = err
		return nil, wt
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		wt.Err = fmt.Errorf("decode session: %w", err)
		return nil, wt
	}
	if sess.ID != id {
		wt.Err = fmt.Errorf("decode session: id mismatch %q", sess.ID)
		return nil, wt
	}
	return &sess, wt
}

func (s *SessionStore) report(wt WriteThrough) {
	if s.cache == nil {
		return
	}
	if !wt.OK() {
		metrics.CacheFailures.WithLabelValues(string(wt.Op)).Inc()
		log.Warn().Str("module", "app.store").Str("op", string(wt.Op)).Str("key", wt.Key).Err(wt.Err).Msg("cache write-through failed, continuing in-process")
	} else {
		log.Debug().Str("module", "app.store").Str("op", string(wt.Op)).Str("key", wt.Key).Msg("cache write-through")
	}
	if s.observe != nil {
		s.observe(wt)
	}
}
