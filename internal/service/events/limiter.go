package events

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// typeLimiter enforces a per-key fixed one-minute window: the counter resets
// each minute rather than sliding.
type typeLimiter struct {
	mu    sync.Mutex
	m     map[string]*window
	limit int
	span  time.Duration
	now   func() time.Time
}

func newTypeLimiter(limit int) *typeLimiter {
	return &typeLimiter{
		m:     make(map[string]*window),
		limit: limit,
		span:  time.Minute,
		now:   time.Now,
	}
}

// Allow reports whether one more event of key fits in the current window.
func (l *typeLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.m[key]
	if !ok || now.Sub(w.start) >= l.span {
		l.m[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}
