// Package session owns the table of live conversations.
//
// A [Manager] maps session identifiers to [Session]s. Each session carries a
// single-slot turn lock: [Manager.WithExclusiveTurn] blocks until the slot is
// free, so turns for one session run strictly one at a time while turns for
// different sessions run in parallel. Idle sessions are reclaimed by
// [Manager.SweepExpired], which never removes a session whose lock is held.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

// ErrTurnCancelled is returned by [Manager.WithExclusiveTurn] when ctx ends
// while waiting for the session lock.
var ErrTurnCancelled = errors.New("session: turn cancelled while waiting for lock")

// ErrCapacity is returned by transports that refuse a connection because the
// session table is full.
var ErrCapacity = errors.New("session: maximum concurrent sessions reached")

// Session is one live conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	// lock is a one-slot semaphore; holding the slot means a turn is running.
	lock chan struct{}

	mu         sync.Mutex
	lastActive time.Time
	conv       *conversation.Context
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lock:       make(chan struct{}, 1),
		lastActive: now,
		conv:       conversation.NewContext(),
	}
}

// LastActive returns the time of the last resolve or turn start.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// Conversation returns a working copy of the session's context. Turns mutate
// the copy and publish it with [Session.Commit].
func (s *Session) Conversation() *conversation.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

// Commit replaces the session's context. Call it only while holding the
// session's exclusive turn.
func (s *Session) Commit(c *conversation.Context) {
	s.mu.Lock()
	s.conv = c
	s.mu.Unlock()
}

// Snapshot returns a read-only copy of the committed context.
func (s *Session) Snapshot() conversation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Snapshot()
}

// tryLock takes the turn slot without blocking.
func (s *Session) tryLock() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) unlock() { <-s.lock }

// Observer is notified about session table changes. observe.Metrics and
// observe.Window implement it.
type Observer interface {
	SessionOpened(ctx context.Context)
	SessionClosed(ctx context.Context, n int)
}

// Config configures a [Manager].
type Config struct {
	// MaxConcurrent caps the table size reported by [Manager.HasCapacity].
	// Zero means unlimited.
	MaxConcurrent int

	Observers []Observer

	// Now replaces time.Now in tests.
	Now func() time.Time

	// NewID replaces uuid.NewString in tests.
	NewID func() string
}

// Manager is the concurrency-safe session table.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// Resolve returns the session for id, refreshing its activity time. An empty
// or unknown id creates a fresh session in [conversation.Entry]. The second
// result reports whether a session was created.
func (m *Manager) Resolve(id string) (*Session, bool) {
	now := m.cfg.Now()
	if id != "" {
		m.mu.RLock()
		s, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok {
			s.touch(now)
			return s, false
		}
	}

	s := newSession(m.cfg.NewID(), now)
	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	for _, o := range m.cfg.Observers {
		o.SessionOpened(context.Background())
	}
	slog.Debug("session created", "session_id", s.ID, "requested_id", id, "active_sessions", count)
	return s, true
}

// WithExclusiveTurn runs fn while holding s's turn lock. It blocks while
// another turn for s is running and returns [ErrTurnCancelled] if ctx ends
// first. The lock is released on every exit path, including a panic in fn.
func (m *Manager) WithExclusiveTurn(ctx context.Context, s *Session, fn func(ctx context.Context) error) error {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTurnCancelled, ctx.Err())
	}
	defer s.unlock()

	s.touch(m.cfg.Now())
	return fn(ctx)
}

// SweepExpired removes sessions idle for longer than maxIdle and returns how
// many were removed. Sessions with a turn in progress are kept.
func (m *Manager) SweepExpired(maxIdle time.Duration) int {
	cutoff := m.cfg.Now().Add(-maxIdle)

	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if !s.LastActive().Before(cutoff) || !s.tryLock() {
			continue
		}
		delete(m.sessions, id)
		s.unlock()
		removed++
	}
	m.mu.Unlock()

	if removed > 0 {
		for _, o := range m.cfg.Observers {
			o.SessionClosed(context.Background(), removed)
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.SweepExpired(maxIdle); n > 0 {
				slog.Info("expired sessions removed", "removed", n, "active_sessions", m.Count())
			}
		}
	}
}

// Get returns the session for id without refreshing it.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes the session for id. It reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		for _, o := range m.cfg.Observers {
			o.SessionClosed(context.Background(), 1)
		}
	}
	return ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MaxConcurrent returns the configured session cap, zero meaning unlimited.
func (m *Manager) MaxConcurrent() int { return m.cfg.MaxConcurrent }

// HasCapacity reports whether another session may be created.
func (m *Manager) HasCapacity() bool {
	return m.cfg.MaxConcurrent <= 0 || m.Count() < m.cfg.MaxConcurrent
}
