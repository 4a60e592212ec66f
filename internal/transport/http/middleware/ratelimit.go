package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arpitdalal/tax-calculator/internal/metrics"
)

// limiter is a sliding-window request counter keyed by client IP.
type limiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// allow records a hit for ip unless the window limit is already reached.
func (l *limiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Entries for an IP are pruned when it comes back; sweep the rest
	// occasionally so one-off clients do not accumulate forever.
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(now)
		l.lastSweep = now
	}

	cutoff := now.Add(-l.window)
	kept := l.hits[ip][:0]
	for _, t := range l.hits[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.hits[ip] = kept
		return false
	}
	l.hits[ip] = append(kept, now)
	return true
}

// sweep drops IPs whose newest hit has left the window. Caller holds mu.
func (l *limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.window)
	for ip, times := range l.hits {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.hits, ip)
		}
	}
}

// RateLimit rejects clients exceeding limit requests per window with 429.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	l := newLimiter(limit, window)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
