// Package throttle tracks the timing state behind the hate/love interaction:
// a per-user minimum interval between accepted hates, and a process-wide
// protection window during which a hate backfires on the hater.
package throttle

import "time"

type Store struct {
	// now is swappable so tests can control time
	now func() time.Time

	hateCooldown   time.Duration
	loveProtection time.Duration

	lastHateByUser      map[string]time.Time
	loveProtectionUntil time.Time
}

func NewStore(hateCooldown time.Duration, loveProtection time.Duration) *Store {
	return &Store{
		now:            time.Now,
		hateCooldown:   hateCooldown,
		loveProtection: loveProtection,
		lastHateByUser: make(map[string]time.Time),
	}
}

// TryHate records a hate attempt by the given user, returning false if the
// user is still within their cooldown. The broadcaster is never throttled.
func (s *Store) TryHate(username string, isBroadcaster bool) bool {
	now := s.now()
	if !isBroadcaster {
		if last, ok := s.lastHateByUser[username]; ok && now.Sub(last) < s.hateCooldown {
			return false
		}
	}
	s.lastHateByUser[username] = now
	return true
}

// Protected reports whether the love-protection window is currently active
func (s *Store) Protected() bool {
	return s.now().Before(s.loveProtectionUntil)
}

// RefreshProtection extends the protection window to now + the configured
// duration
func (s *Store) RefreshProtection() {
	s.loveProtectionUntil = s.now().Add(s.loveProtection)
}
