// Package session keeps in-progress transaction drafts keyed by an opaque
// session identifier, discarding them after a period of inactivity.
//
// Concurrency: Get, Put and Remove on different keys never interfere. Two
// writers racing on the same key are not expected (one session is one
// conversation) and resolve as last write wins. Drafts are copied on the way
// in and on the way out, so callers never share memory with the store.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// DefaultTTL is the inactivity window after which a session is discarded.
const DefaultTTL = 10 * time.Minute

// Stage is where a session sits in the dialogue. A terminal session is simply
// removed from the store.
type Stage int

const (
	// StageCollecting means slots are still missing.
	StageCollecting Stage = iota
	// StageAwaitingConfirmation means a summary was shown and the engine is
	// waiting for yes, no or a change.
	StageAwaitingConfirmation
)

func (s Stage) String() string {
	switch s {
	case StageCollecting:
		return "COLLECTING"
	case StageAwaitingConfirmation:
		return "AWAITING_CONFIRMATION"
	default:
		return "UNKNOWN"
	}
}

// Session is one conversation's draft.
type Session struct {
	ID          string
	Stage       Stage
	Draft       *txn.Draft
	LastTouched time.Time
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Draft = s.Draft.Clone()
	return &cp
}

// Config configures a Store.
type Config struct {
	// TTL is the inactivity window. Defaults to DefaultTTL.
	TTL time.Duration

	// FallbackToMostRecent makes Get("") return the most recently touched
	// session. It only suits single-user hosts such as a local REPL: with
	// several users it silently merges unrelated conversations. Off by
	// default; callers are expected to pass a stable id per conversation.
	FallbackToMostRecent bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Store is a TTL-bounded map from session id to Session. It is safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Session
}

// New returns an empty Store.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		cfg:     cfg,
		entries: make(map[string]*Session),
	}
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// TTL returns the configured inactivity window.
func (s *Store) TTL() time.Duration { return s.cfg.TTL }

// Get returns a copy of the live session for id. An expired entry is removed
// and reported as absent. An empty id only resolves when
// FallbackToMostRecent is set.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		if !s.cfg.FallbackToMostRecent {
			return nil, false
		}
		return s.MostRecent()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if s.expired(e, s.cfg.Now()) {
		delete(s.entries, id)
		return nil, false
	}
	return e.clone(), true
}

// Put stores a copy of draft under id at the given stage and refreshes its
// last-touched time. Expired entries are swept on the way.
func (s *Store) Put(id string, stage Stage, draft *txn.Draft) *Session {
	now := s.cfg.Now()
	d := draft.Clone()
	if d == nil {
		d = txn.NewDraft(txn.DirectionUnknown, now)
	}
	d.LastTouched = now
	e := &Session{ID: id, Stage: stage, Draft: d, LastTouched: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[id] = e
	return e.clone()
}

// Remove deletes the session for id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// SweepExpired removes every session idle for longer than the TTL and
// returns how many were removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.cfg.Now())
}

// MostRecent returns the live session touched last, if any.
func (s *Store) MostRecent() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	s.sweepLocked(now)

	var best *Session
	for _, e := range s.entries {
		if best == nil || e.LastTouched.After(best.LastTouched) ||
			(e.LastTouched.Equal(best.LastTouched) && e.ID < best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// Len returns the number of stored sessions, expired ones included until the
// next sweep.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) expired(e *Session, now time.Time) bool {
	return now.Sub(e.LastTouched) > s.cfg.TTL
}

// sweepLocked must be called with mu held.
func (s *Store) sweepLocked(now time.Time) int {
	n := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
