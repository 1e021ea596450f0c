// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consultease/central/internal/metrics"
)

// SubjectKind distinguishes who a session belongs to.
type SubjectKind string

const (
	SubjectStudent SubjectKind = "student"
	SubjectAdmin   SubjectKind = "admin"
)

// Session is an authenticated subject's bounded-lifetime token. Sessions
// live in memory only; a restart logs everyone out.
type Session struct {
	ID         string
	SubjectID  int64
	Kind       SubjectKind
	Created    time.Time
	LastActive time.Time
	SourceAddr string
	UserAgent  string
	CSRFToken  string
}

// Sessions owns the in-memory session table. All operations are O(1)
// under one lock; the janitor sweeps idle entries in the background.
type Sessions struct {
	mu          sync.Mutex
	byID        map[string]*Session
	idleTimeout time.Duration

	// onAddrChange is invoked (outside the lock) when a validated
	// session shows up from a new source address.
	onAddrChange     func(s Session, oldAddr string)
	invalidateOnAddr bool
}

// NewSessions builds the session table.
func NewSessions(idleTimeout time.Duration, invalidateOnAddrChange bool) *Sessions {
	return &Sessions{
		byID:             make(map[string]*Session),
		idleTimeout:      idleTimeout,
		invalidateOnAddr: invalidateOnAddrChange,
	}
}

// OnAddrChange installs the security-warning hook.
func (s *Sessions) OnAddrChange(fn func(sess Session, oldAddr string)) {
	s.mu.Lock()
	s.onAddrChange = fn
	s.mu.Unlock()
}

// Open creates a session for an authenticated subject.
func (s *Sessions) Open(subjectID int64, kind SubjectKind, addr, userAgent string) *Session {
	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		Kind:       kind,
		Created:    now,
		LastActive: now,
		SourceAddr: addr,
		UserAgent:  userAgent,
		CSRFToken:  uuid.NewString(),
	}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	metrics.SessionsActive.Set(float64(len(s.byID)))
	s.mu.Unlock()
	return sess
}

// Validate checks liveness and bumps last_active. The returned copy is
// safe to read without the lock.
func (s *Sessions) Validate(id string) (Session, bool) {
	now := time.Now()
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	if now.Sub(sess.LastActive) > s.idleTimeout {
		delete(s.byID, id)
		metrics.SessionsActive.Set(float64(len(s.byID)))
		s.mu.Unlock()
		return Session{}, false
	}
	sess.LastActive = now
	out := *sess
	s.mu.Unlock()
	return out, true
}

// Invalidate removes one session.
func (s *Sessions) Invalidate(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	metrics.SessionsActive.Set(float64(len(s.byID)))
	s.mu.Unlock()
}

// InvalidateAllFor removes every session of a subject (deactivation,
// password change).
func (s *Sessions) InvalidateAllFor(subjectID int64, kind SubjectKind) int {
	s.mu.Lock()
	n := 0
	for id, sess := range s.byID {
		if sess.SubjectID == subjectID && sess.Kind == kind {
			delete(s.byID, id)
			n++
		}
	}
	metrics.SessionsActive.Set(float64(len(s.byID)))
	s.mu.Unlock()
	return n
}

// RotateCSRF issues a fresh CSRF token for the session.
func (s *Sessions) RotateCSRF(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return "", false
	}
	sess.CSRFToken = uuid.NewString()
	return sess.CSRFToken, true
}

// UpdateSecurityContext refreshes the source address and user agent. An
// address change triggers the warning hook; invalidation on change is
// configurable and off by default.
func (s *Sessions) UpdateSecurityContext(id, addr, userAgent string) bool {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	oldAddr := sess.SourceAddr
	changed := addr != "" && oldAddr != "" && addr != oldAddr
	sess.SourceAddr = addr
	if userAgent != "" {
		sess.UserAgent = userAgent
	}
	var hook func(Session, string)
	var copySess Session
	if changed {
		hook = s.onAddrChange
		copySess = *sess
		if s.invalidateOnAddr {
			delete(s.byID, id)
			metrics.SessionsActive.Set(float64(len(s.byID)))
		}
	}
	s.mu.Unlock()

	if changed && hook != nil {
		hook(copySess, oldAddr)
	}
	return !(changed && s.invalidateOnAddr)
}

// RunJanitor sweeps idle sessions until ctx is cancelled. Validate
// already drops expired sessions lazily; the janitor keeps the table
// from holding abandoned entries forever.
func (s *Sessions) RunJanitor(ctx context.Context) error {
	interval := s.idleTimeout / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Sessions) sweep(now time.Time) {
	s.mu.Lock()
	for id, sess := range s.byID {
		if now.Sub(sess.LastActive) > s.idleTimeout {
			delete(s.byID, id)
		}
	}
	metrics.SessionsActive.Set(float64(len(s.byID)))
	s.mu.Unlock()
}
