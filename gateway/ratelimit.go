package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connRateLimitPerMinute is the default number of new websocket connections
// allowed per source IP per minute.
const connRateLimitPerMinute = 30

// idleLimiterTTL is how long an IP's limiter is kept around after its last
// check before the cleanup loop reclaims it.
const idleLimiterTTL = 2 * time.Minute

// ConnRateLimiter throttles new websocket handshakes per source IP using a
// token bucket per IP, refilled at connRateLimitPerMinute tokens/minute.
type ConnRateLimiter struct {
	mu       sync.Mutex
	perIP    map[string]*rate.Limiter
	lastSeen map[string]time.Time
	limit    rate.Limit
	burst    int
}

// NewConnRateLimiter builds a limiter allowing maxPerMinute handshakes per
// IP per 60-second window, and starts its background cleanup goroutine.
func NewConnRateLimiter(maxPerMinute int) *ConnRateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = connRateLimitPerMinute
	}
	l := &ConnRateLimiter{
		perIP:    make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    rate.Every(time.Minute / time.Duration(maxPerMinute)),
		burst:    maxPerMinute,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection from ip should be accepted.
func (l *ConnRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.perIP[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perIP[ip] = lim
	}
	l.lastSeen[ip] = time.Now()
	return lim.Allow()
}

// cleanupLoop periodically evicts limiters for IPs that have not connected
// recently, so a long-running gateway does not accumulate one entry per
// distinct client IP forever.
func (l *ConnRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-idleLimiterTTL)
		l.mu.Lock()
		for ip, seen := range l.lastSeen {
			if seen.Before(cutoff) {
				delete(l.perIP, ip)
				delete(l.lastSeen, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Size reports the number of IPs currently tracked. Exposed for tests and
// health diagnostics.
func (l *ConnRateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}
