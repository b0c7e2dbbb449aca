package presence

import (
	"sync"
	"time"
)

type limiterKey struct {
	docID  string
	userID string
}

// Limiter drops presence updates that arrive faster than a minimum
// interval per (diagram, user). Idle keys are removed by Sweep so the map
// does not grow with every user ever seen.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[limiterKey]time.Time
	now      func() time.Time
}

// NewLimiter creates a limiter accepting one update per interval.
func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultMinInterval
	}

	return &Limiter{
		interval: interval,
		last:     make(map[limiterKey]time.Time),
		now:      time.Now,
	}
}

// Allow records an update and reports whether it should be processed.
func (l *Limiter) Allow(docID, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey{docID: docID, userID: userID}
	now := l.now()

	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}

	l.last[key] = now

	return true
}

// Forget drops the key of a user that left.
func (l *Limiter) Forget(docID, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.last, limiterKey{docID: docID, userID: userID})
}

// Sweep removes keys idle for longer than idle and returns how many.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0

	for key, last := range l.last {
		if last.Before(cutoff) {
			delete(l.last, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.last)
}
