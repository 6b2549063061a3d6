// Package session provides the TTL-bounded conversation store that gives
// independent requests multi-turn continuity. It is the only state shared
// across requests.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

const (
	defaultTTL           = time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// Session is a caller-identified accumulation of conversation history.
type Session struct {
	ID            string           `json:"id"`
	Messages      []domain.Message `json:"messages"`
	ExternalTools []string         `json:"external_tools,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	LastAccess    time.Time        `json:"last_access"`
}

// Stats summarizes store state.
type Stats struct {
	ActiveSessions int           `json:"active_sessions"`
	TotalMessages  int           `json:"total_messages"`
	TTL            time.Duration `json:"ttl"`
}

// Store is an in-memory session store with TTL expiry. Expiry happens both
// lazily on access and via the background sweeper started with Start.
//
// Turn locks are tracked separately from sessions: a request acquires its
// session id's lock for the whole read-run-append window, so concurrent
// requests bearing the same id serialize while distinct ids proceed fully
// in parallel. A session itself is created only when history is appended.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*turnLock

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// turnLock is a session id's turn mutex plus the number of requests holding
// or waiting on it. A lock with live refs is never reclaimed, even when the
// session itself expires mid-turn.
type turnLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures the store.
type Option func(*Store)

// WithTTL sets the idle lifetime of a session.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepInterval sets how often the background sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a session store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*turnLock),
		ttl:      defaultTTL,
		interval: defaultSweepInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the background sweeper until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.SweepExpired(); removed > 0 {
					s.logger.Info("swept expired sessions", slog.Int("removed", removed))
				}
			}
		}
	}()
}

func (s *Store) expired(sess *Session) bool {
	return s.now().Sub(sess.LastAccess) > s.ttl
}

// Acquire locks the turn mutex for the given session id and refreshes the
// session's last-access time, so a turn in flight cannot expire out from
// under its own session. The caller must Release when its turn finishes,
// whether or not it appended anything.
func (s *Store) Acquire(id string) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &turnLock{}
		s.locks[id] = l
	}
	l.refs++
	if sess, ok := s.sessions[id]; ok && !s.expired(sess) {
		sess.LastAccess = s.now()
	}
	s.mu.Unlock()
	l.mu.Lock()
}

// Release unlocks the turn mutex for the given session id, reclaiming the
// lock entry once no holder or waiter remains and the session is gone.
func (s *Store) Release(id string) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if ok {
		l.refs--
		if l.refs == 0 {
			if _, live := s.sessions[id]; !live {
				delete(s.locks, id)
			}
		}
	}
	s.mu.Unlock()
	if ok {
		l.mu.Unlock()
	}
}

// Get returns a copy of the session, or ok=false for unknown or expired ids.
// Absence is a value, not an error.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if s.expired(sess) {
		delete(s.sessions, id)
		return Session{}, false
	}

	cp := *sess
	cp.Messages = append([]domain.Message(nil), sess.Messages...)
	cp.ExternalTools = append([]string(nil), sess.ExternalTools...)
	return cp, true
}

// Append adds messages to the session's history, creating the session on
// first use, and updates the last-access timestamp. An expired entry is
// replaced by a fresh session rather than resurrected.
func (s *Store) Append(id string, msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess) {
		sess = &Session{ID: id, CreatedAt: s.now()}
		s.sessions[id] = sess
	}

	sess.Messages = append(sess.Messages, msgs...)
	sess.LastAccess = s.now()
}

// SetExternalTools records the external tool-name set active for a session.
func (s *Store) SetExternalTools(id string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.ExternalTools = append([]string(nil), names...)
		sess.LastAccess = s.now()
	}
}

// Delete removes a session. Returns false when the id is unknown or already
// expired, so deleting an absent session is reported as not found every time.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	delete(s.sessions, id)
	return !s.expired(sess)
}

// List returns copies of all live sessions.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			continue
		}
		cp := *sess
		cp.Messages = append([]domain.Message(nil), sess.Messages...)
		out = append(out, cp)
	}
	return out
}

// SweepExpired removes all sessions idle past the TTL and reports how many
// were removed. Lock entries are reclaimed only when no request holds or
// waits on them; dropping a held lock would let a concurrent request mint a
// fresh mutex for the same id and break per-id serialization.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, l := range s.locks {
		if _, live := s.sessions[id]; !live && l.refs == 0 {
			delete(s.locks, id)
		}
	}
	return removed
}

// Stats returns the active session count, total message count, and TTL.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TTL: s.ttl}
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			continue
		}
		st.ActiveSessions++
		st.TotalMessages += len(sess.Messages)
	}
	return st
}
