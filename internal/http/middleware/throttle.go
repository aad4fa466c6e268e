package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused key keeps its limiter.
const idleLimiterTTL = 10 * time.Minute

// KeyedLimiter holds one token bucket per key.
type KeyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*keyedEntry
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows limit events per second with the given burst per key.
func NewKeyedLimiter(limit rate.Limit, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*keyedEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether an event for key fits in its bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *KeyedLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < idleLimiterTTL {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > idleLimiterTTL {
			delete(l.limiters, key)
		}
	}
}

// Throttle rejects requests whose key exceeds the limiter with 429. Requests
// with an empty key pass through.
func Throttle(limiter *KeyedLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" && !limiter.Allow(k) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
