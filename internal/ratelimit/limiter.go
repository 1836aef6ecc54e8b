package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minIdleTTL bounds how quickly an idle client's bucket can be dropped
const minIdleTTL = time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages token buckets for multiple clients
type Limiter struct {
	clients   map[string]*client
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	perHour   int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter creates a new rate limiter
// requestsPerHour: total requests allowed per hour per client (e.g., 100)
// burst: max requests in a burst (e.g., 10)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	// Convert requests per hour to requests per second
	r := rate.Limit(float64(requestsPerHour) / 3600.0)

	// A bucket idle for this long has refilled, so dropping it loses nothing
	idleTTL := minIdleTTL
	if requestsPerHour > 0 {
		if refill := time.Duration(float64(burst) / float64(r) * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}

	return &Limiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   burst,
		perHour: requestsPerHour,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// PerHour returns the configured hourly allowance
func (l *Limiter) PerHour() int {
	return l.perHour
}

// Len returns the number of clients currently tracked
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	c, exists := l.clients[key]
	if !exists {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	return c.limiter
}

// sweep drops idle clients at most once per idle period. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now

	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// Allow checks if a request is allowed for the given client
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Tokens returns the current number of available tokens for a client
func (l *Limiter) Tokens(key string) float64 {
	return l.get(key).Tokens()
}
