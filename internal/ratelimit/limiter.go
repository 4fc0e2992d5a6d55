package ratelimit

import "time"

// DefaultMinInterval allows 5 messages per second per connection.
const DefaultMinInterval = 200 * time.Millisecond

// Limiter is a per-connection minimum-interval gate on inbound
// messages. Each connection owns its limiter and calls Allow from its
// single read loop, so no locking is needed. There is no shared state
// across connections.
type Limiter struct {
	minInterval  time.Duration
	lastAccepted time.Time
}

// New creates a limiter with the given minimum interval between
// accepted messages. Non-positive intervals fall back to the default.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Limiter{minInterval: minInterval}
}

// Allow reports whether a message arriving at now may be accepted. The
// first call always succeeds. On success the acceptance time is
// recorded; rejected calls leave it untouched.
func (l *Limiter) Allow(now time.Time) bool {
	if !l.lastAccepted.IsZero() && now.Sub(l.lastAccepted) < l.minInterval {
		return false
	}
	l.lastAccepted = now
	return true
}
