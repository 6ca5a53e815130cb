package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// sweepEvery bounds how often idle entries are pruned: once per this many
// Allow calls rather than on every call.
const sweepEvery = 64

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter tracks request rates per key, typically a client IP. Idle
// keys are swept after ttl so the map stays bounded by active callers.
type ipRateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	ttl        time.Duration
	now        func() time.Time
	sinceSweep int
}

// NewIPRateLimiter constructs a per-key limiter allowing up to `requests`
// events per `window` plus a burst allowance. Idle entries expire after ttl.
func NewIPRateLimiter(requests int, window time.Duration, burst int, ttl time.Duration) RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &ipRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	l.sinceSweep++
	if l.sinceSweep >= sweepEvery {
		l.sinceSweep = 0
		for key, stale := range l.visitors {
			if now.Sub(stale.lastSeen) > l.ttl {
				delete(l.visitors, key)
			}
		}
	}
	l.mu.Unlock()

	return v.limiter.Allow()
}
