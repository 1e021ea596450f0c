// SPDX-License-Identifier: MIT

package auth

import (
	"sync"
	"time"
)

type attempt struct {
	at   time.Time
	addr string
}

// lockoutTable tracks failed login attempts per identifier. Entries
// older than the window are garbage-collected lazily on every touch.
type lockoutTable struct {
	mu        sync.Mutex
	attempts  map[string][]attempt
	threshold int
	window    time.Duration
}

func newLockoutTable(threshold int, window time.Duration) *lockoutTable {
	return &lockoutTable{
		attempts:  make(map[string][]attempt),
		threshold: threshold,
		window:    window,
	}
}

// pruneLocked drops attempts outside the window. Callers hold mu.
func (l *lockoutTable) pruneLocked(id string, now time.Time) []attempt {
	kept := l.attempts[id][:0]
	for _, a := range l.attempts[id] {
		if now.Sub(a.at) < l.window {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, id)
		return nil
	}
	l.attempts[id] = kept
	return kept
}

// recordFailure notes one failed attempt and reports whether this
// failure crossed the lockout threshold.
func (l *lockoutTable) recordFailure(id, addr string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.pruneLocked(id, now)
	live = append(live, attempt{at: now, addr: addr})
	l.attempts[id] = live
	return len(live) == l.threshold
}

// remaining computes how long the identifier stays locked, from the
// Nth-most-recent failure inside the window. Zero means not locked.
func (l *lockoutTable) remaining(id string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.pruneLocked(id, now)
	if len(live) < l.threshold {
		return 0
	}
	// The lock expires when the Nth-most-recent failure ages out.
	nth := live[len(live)-l.threshold]
	return l.window - now.Sub(nth.at)
}

// clear wipes the identifier after a successful login.
func (l *lockoutTable) clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, id)
}
