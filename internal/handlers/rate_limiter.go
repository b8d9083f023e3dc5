package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles request submissions per customer. Throttling state is
// keyed server-side by the authenticated uid; client-supplied hints are never
// consulted for the decision.
type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

type submissionThrottle struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	counts map[string]throttleWindow
}

type throttleWindow struct {
	count   int
	resetAt time.Time
}

func newSubmissionThrottle(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &submissionThrottle{
		limit:  limit,
		window: window,
		clock:  clock,
		counts: make(map[string]throttleWindow),
	}
}

// Allow reports whether the customer may submit another request now. When the
// window is exhausted it returns the time remaining until the window resets.
func (l *submissionThrottle) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.counts[key]
	if !ok || !now.Before(win.resetAt) {
		l.counts[key] = throttleWindow{count: 1, resetAt: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true, 0
	}

	if win.count >= l.limit {
		return false, win.resetAt.Sub(now)
	}
	win.count++
	l.counts[key] = win
	return true, 0
}

func (l *submissionThrottle) dropExpiredLocked(now time.Time) {
	for key, win := range l.counts {
		if !now.Before(win.resetAt) {
			delete(l.counts, key)
		}
	}
}
