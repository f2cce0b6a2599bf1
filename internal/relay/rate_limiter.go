package relay

import (
	"sync"
	"time"
)

// SignalRateLimiter bounds how many call signals a single client may
// push per window so a misbehaving client cannot flood its room mate.
type SignalRateLimiter struct {
	mu       sync.Mutex
	history  map[SessionID][]time.Time
	limit    int
	interval time.Duration
}

func NewSignalRateLimiter(limit int, interval time.Duration) *SignalRateLimiter {
	return &SignalRateLimiter{
		history:  make(map[SessionID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *SignalRateLimiter) Allow(sid SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[sid] = fresh
	return true
}
